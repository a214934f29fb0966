package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opd-ai/meshgate"
	"github.com/opd-ai/meshgate/node"
	"github.com/opd-ai/meshgate/protocol"
)

// NodeSummary is one row of the node listing.
type NodeSummary struct {
	ID      uint16 `json:"id"`
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status"`
	Sleepy  bool   `json:"sleepy"`
}

// NodesResponse lists all active sessions.
type NodesResponse struct {
	Count int           `json:"count"`
	Nodes []NodeSummary `json:"nodes"`
}

// NodeDetailResponse is one session with its link metrics.
type NodeDetailResponse struct {
	NodeSummary
	PER                   float64   `json:"per"`
	PacketsTotal          uint32    `json:"packets_total"`
	PacketsError          uint32    `json:"packets_error"`
	PacketsPerHour        float64   `json:"packets_per_hour"`
	SendFailures          uint32    `json:"send_failures"`
	BroadcastKeyDelivered bool      `json:"broadcast_key_delivered"`
	KeyAgreedAt           time.Time `json:"key_agreed_at"`
	LastSeen              time.Time `json:"last_seen"`
}

// MessageRequest is the body of a downstream send. The payload travels as
// base64; kind selects set, get or control semantics; encoding tags how the
// payload bytes are serialized and defaults to raw.
type MessageRequest struct {
	Payload  string `json:"payload"`
	Kind     string `json:"kind"`
	Encoding string `json:"encoding,omitempty"`
}

// MessageResponse confirms a queued downstream send.
type MessageResponse struct {
	Success bool   `json:"success"`
	Target  string `json:"target"`
	Length  int    `json:"length"`
}

// resolveNode finds a session by physical address or bound name.
func (s *Server) resolveNode(param string) (node.Node, bool) {
	if addr, err := protocol.ParseAddress(param); err == nil {
		return s.gateway.NodeByAddress(addr)
	}
	return s.gateway.NodeByName(param)
}

func summarize(sess node.Node) NodeSummary {
	return NodeSummary{
		ID:      sess.ID,
		Address: sess.Addr.String(),
		Name:    sess.Name,
		Status:  sess.Status.String(),
		Sleepy:  sess.Sleepy,
	}
}

// handleNodes handles GET /api/gw/nodes.
func (s *Server) handleNodes(c *gin.Context) {
	sessions := s.gateway.Nodes()
	nodes := make([]NodeSummary, 0, len(sessions))
	for _, sess := range sessions {
		nodes = append(nodes, summarize(sess))
	}
	c.JSON(http.StatusOK, NodesResponse{Count: len(nodes), Nodes: nodes})
}

// handleNodeDetail handles GET /api/node/:address.
func (s *Server) handleNodeDetail(c *gin.Context) {
	sess, ok := s.resolveNode(c.Param("address"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown node",
			Message: fmt.Sprintf("no session for %q", c.Param("address")),
		})
		return
	}

	rate, _ := s.gateway.PacketsPerHour(sess.Addr)
	c.JSON(http.StatusOK, NodeDetailResponse{
		NodeSummary:           summarize(sess),
		PER:                   sess.PER(),
		PacketsTotal:          sess.PacketsTotal,
		PacketsError:          sess.PacketsError,
		PacketsPerHour:        rate,
		SendFailures:          sess.SendFailures,
		BroadcastKeyDelivered: sess.BroadcastKeyDelivered,
		KeyAgreedAt:           sess.KeyAgreedAt,
		LastSeen:              sess.LastSeen,
	})
}

// handleKick handles DELETE /api/node/:address. The teardown runs on the
// engine loop; a 200 means it was scheduled.
func (s *Server) handleKick(c *gin.Context) {
	sess, ok := s.resolveNode(c.Param("address"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown node",
			Message: fmt.Sprintf("no session for %q", c.Param("address")),
		})
		return
	}

	if err := s.gateway.KickNode(sess.Addr); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, node.ErrUnknownNode):
			status = http.StatusNotFound
		case errors.Is(err, meshgate.ErrEngineBusy):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{Error: "Kick failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: fmt.Sprintf("node %s scheduled for disconnect", sess.Addr),
	})
}

// handleMessage handles POST /api/node/:address/message.
func (s *Server) handleMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid payload",
			Message: "payload must be base64",
		})
		return
	}

	kind, err := parseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid kind", Message: err.Error()})
		return
	}
	encoding, err := parseEncoding(req.Encoding)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid encoding", Message: err.Error()})
		return
	}

	target := c.Param("address")
	if err := s.gateway.SendDownstream(target, payload, kind, encoding); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, node.ErrUnknownNode):
			status = http.StatusNotFound
		case errors.Is(err, protocol.ErrPayloadTooLarge):
			status = http.StatusBadRequest
		case errors.Is(err, meshgate.ErrEngineBusy):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{Error: "Send failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{
		Success: true,
		Target:  target,
		Length:  len(payload),
	})
}

// parseKind maps the wire name of a downstream kind.
func parseKind(s string) (meshgate.DownstreamKind, error) {
	switch s {
	case "set":
		return meshgate.DownstreamKindSet, nil
	case "get":
		return meshgate.DownstreamKindGet, nil
	case "control":
		return meshgate.DownstreamKindControl, nil
	}
	return 0, fmt.Errorf("kind %q is not one of set, get, control", s)
}

// parseEncoding maps the wire name of a payload encoding. Absent means raw.
func parseEncoding(s string) (protocol.PayloadEncoding, error) {
	switch s {
	case "", "raw":
		return protocol.EncodingRaw, nil
	case "cayennelpp":
		return protocol.EncodingCayenneLPP, nil
	case "protobuf":
		return protocol.EncodingProtoBuf, nil
	case "msgpack":
		return protocol.EncodingMsgPack, nil
	case "bson":
		return protocol.EncodingBSON, nil
	case "cbor":
		return protocol.EncodingCBOR, nil
	case "smile":
		return protocol.EncodingSMILE, nil
	case "native":
		return protocol.EncodingNative, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", s)
}
