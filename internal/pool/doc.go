/*
Package pool keeps the ordered set of isolated execution contexts shared by
registrations.

# Overview

Every pooled context carries a pool key, a readiness status and the set of
registration ids it currently hosts. Registrations with the same pool key share
one context; a context whose hosted set is empty may be repurposed for a
different key.

# Admission

Admit picks a context for a pool key in this order:

 1. the context already bound to the key, if its tag still matches
 2. with pooling enabled, an idle ready context found by a linear probe that
    starts at a random offset and wraps around, visiting each context once
 3. with pooling enabled and room left, a new context from the factory
 4. otherwise ErrCapacity

With pooling disabled only step 1 applies, so contexts must be registered by
hand with Register.

# Concurrency

A Pool is not safe for concurrent use. The coordinator owns it and serializes
every call under its own lock.
*/
package pool
