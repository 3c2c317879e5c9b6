/*
Package executor sends HTTP requests to the service under test.

# Overview

A single Client is shared by every virtual user of a run:
  - resty on top of a tuned net/http transport
  - connection pool sized from the number of virtual users
  - dial, TLS handshake and response header timeouts
  - optional TLS/mTLS settings
  - an X-Request-ID header on every request

No retries are configured. A request either yields a Response with whatever
status the service returned, or an error when no response arrived at all.
*/
package executor
