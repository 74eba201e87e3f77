/*
Package coordinator binds host proxies to remote objects living in pooled
isolated contexts.

# Overview

A registration pairs a host Proxy with a script evaluated inside a context
chosen by pool key. The coordinator admits the registration into the pool,
sends the script once the context is ready and settles the returned promise
when the remote agent answers. From then on:

  - Call and Request reach methods of the remote object
  - the remote object's call and request reach the Proxy's handlers

# Usage

	c := coordinator.New(coordinator.DefaultOptions(), factory, logger)
	defer c.Close()

	proxy := coordinator.NewProxy("detector").
		Handle("onDetect", func(ctx context.Context, args []any) (any, error) {
			return nil, nil
		})

	regID, err := c.Register(proxy, "example", "https://example.com", script).Wait(ctx)
	result, err := c.Request(regID, "detect", "text").Wait(ctx)

# Concurrency

All coordinator state sits behind one mutex. Promises are settled and proxy
handlers run only after it is released, so callbacks may call back into the
coordinator. Handlers for requests coming from a context run on their own
goroutine; fire-and-forget messages run on a per-registration goroutine in the
order the context sent them. Either kind may block, for instance on a Request
to the same context.

Call and Request made before the context finished loading are held and sent
right after the registration script, so they reach the remote object in order.
*/
package coordinator
