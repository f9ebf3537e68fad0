// Package server hosts the Fiber HTTP service, request middleware chain, and
// origin registry glue that maps the inbound Host onto an upstream origin.
// It is the only place where the interception layer meets a real network
// listener: handlers receive an OriginRoute and never look at configuration
// directly. Keep exports narrow and accept explicit dependencies.
package server
