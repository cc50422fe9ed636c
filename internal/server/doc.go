/*
Package server accepts TCP connections and hands each one to a worker pool.

The accept loop never does any per-request I/O beyond an optional refusal:
every accepted connection becomes a workerpool.Task, and a worker reads the
request line, picks a page and writes the response.

	GET / HTTP/1.1   ->  HTTP/1.1 200 OK         + hello page
	anything else    ->  HTTP/1.1 404 NOT FOUND  + 404 page

Responses carry only a Content-Length header. The connection is closed after
one response.

Admission:

If Config.Admitter denies a connection it is answered with 429 on the accept
goroutine and never reaches the pool. If the pool refuses the task (bounded
queue full, pool shut down, no live workers) the answer is 503.

Shutdown:

Cancelling the context passed to Serve closes the listener, then closes the
pool, which runs every connection already queued before Serve returns.
*/
package server
