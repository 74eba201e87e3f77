/*
Package sandbox provides isolated JavaScript contexts backed by goja.

A Runtime owns one goja VM on one goroutine, its event loop. Nothing else
touches the VM: the host reaches it only through Send, which encodes the
message and queues it onto the loop. Messages the page sends back, together
with the DOMReady and DidFinishLoad lifecycle events, leave through a second
queue drained by its own goroutine, so a context's events reach its listener
in the order the page produced them.

# Navigation

Load fetches a source locator through the loader and replaces the VM with a
fresh one for the new document:

	rt, _ := sandbox.New(l, sandbox.DefaultConfig(), logger)
	rt.Attach(listener)
	rt.Load("https://example.com")

Each navigation gets new globals (window, location, navigator, document,
console, timers), a new agent and, when configured, the preload script,
evaluated before the page's own inline scripts. A load failure still produces a
document: an empty page plus a console error.

# Document

The document is a goquery tree of the loaded markup. Pages query it with CSS
selectors or document.evaluate, which takes an XPath expression and returns
element proxies for element matches and text for everything else. Writes are
recorded as DOMChange entries on the Result of the Execute that made them;
innerHTML assignments pass through an HTML sanitizer first.

# Agent

Every page carries the runtime agent. It answers the register, unregister and
per-registration channels, evaluates registration scripts into remote objects,
and installs call and request on each of them so the page can reach the host.

# Security

Like any page script, registration scripts run without require, process,
module or exports. Each task on the loop is interrupted once it exceeds
Config.Timeout.
*/
package sandbox
