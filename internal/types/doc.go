/*
Package types defines the data structures shared across taskload.

# Overview

The types package provides:
  - The task type body created by every scenario iteration
  - The task type page returned by the listing endpoint
  - TLS settings for the target service

Task types returned by the service are not modelled as structs. They are kept
as decoded JSON documents so that fields added by the server (identifier,
timestamps, defaults) take part in the equivalence checks.
*/
package types
