package bounce

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// maxDepth bounds nesting of multiparts and embedded messages.
const maxDepth = 10

// Node is one element of a parsed message tree: *MessageNode,
// *MultipartNode or *LeafNode.
type Node interface {
	node()
}

// MessageNode is a complete message, either the outer one or a
// message/rfc822 (or message/global) part embedded in it.
type MessageNode struct {
	Header mail.Header
	Body   Node
}

// MultipartNode is a multipart/* entity with its parts in order.
type MultipartNode struct {
	MediaType string
	Parts     []Node
}

// LeafNode is a single part with its decoded body.
type LeafNode struct {
	MediaType string
	Header    message.Header
	Body      []byte
}

func (*MessageNode) node()   {}
func (*MultipartNode) node() {}
func (*LeafNode) node()      {}

// ReadMessage parses raw bytes into a message tree.
func ReadMessage(raw []byte) (*MessageNode, error) {
	return readMessage(raw, 0)
}

func readMessage(raw []byte, depth int) (*MessageNode, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if e == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnEmail, err)
	}
	if e.Header.Len() == 0 {
		return nil, ErrNotAnEmail
	}

	return &MessageNode{Header: mail.Header{Header: e.Header}, Body: readEntity(e, depth)}, nil
}

func readEntity(e *message.Entity, depth int) Node {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	if mr := e.MultipartReader(); mr != nil && depth < maxDepth {
		mp := &MultipartNode{MediaType: mediaType}
		for {
			// Unknown charsets still yield a part; anything else ends
			// the multipart with the parts read so far.
			part, err := mr.NextPart()
			if part == nil || err == io.EOF {
				break
			}
			mp.Parts = append(mp.Parts, readEntity(part, depth+1))
		}
		return mp
	}

	// Undecodable transfer encodings still yield whatever was read.
	body, _ := io.ReadAll(e.Body)

	if isEmbeddedMessage(mediaType) && depth < maxDepth {
		if inner, err := readMessage(body, depth+1); err == nil {
			return inner
		}
	}

	return &LeafNode{MediaType: mediaType, Header: e.Header, Body: body}
}

func isEmbeddedMessage(mediaType string) bool {
	return mediaType == "message/rfc822" || mediaType == "message/global"
}

func isDeliveryStatus(mediaType string) bool {
	return mediaType == "message/delivery-status" || mediaType == "message/global-delivery-status"
}

func isOriginalHeaders(mediaType string) bool {
	return mediaType == "text/rfc822-headers" || mediaType == "message/global-headers"
}

// leaves returns the leaf parts of n in document order. Embedded messages
// are not descended into: they hold the original mail, not the report.
func leaves(n Node) []*LeafNode {
	switch v := n.(type) {
	case *MessageNode:
		return leaves(v.Body)
	case *MultipartNode:
		var out []*LeafNode
		for _, p := range v.Parts {
			if _, embedded := p.(*MessageNode); embedded {
				continue
			}
			out = append(out, leaves(p)...)
		}
		return out
	case *LeafNode:
		return []*LeafNode{v}
	}
	return nil
}

// embedded returns the first embedded message or original-headers part
// found directly in the parts of the outer message body.
func embedded(msg *MessageNode) Node {
	var find func(n Node) Node
	find = func(n Node) Node {
		mp, ok := n.(*MultipartNode)
		if !ok {
			return nil
		}
		for _, p := range mp.Parts {
			switch v := p.(type) {
			case *MessageNode:
				return v
			case *LeafNode:
				if isOriginalHeaders(v.MediaType) {
					return v
				}
			case *MultipartNode:
				if found := find(v); found != nil {
					return found
				}
			}
		}
		return nil
	}
	return find(msg.Body)
}

// normalizeSpace collapses runs of whitespace, including folded header
// continuations, into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
