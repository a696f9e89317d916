// Package node runs the ping/pong protocol over QUIC: a Server that echoes
// every Ping as a Pong and a Client that dials it.
package node

import "github.com/gin-gonic/gin"

// Node is anything exposing an admin HTTP surface.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
