package twin

import (
	"fmt"
	"net/http"

	"github.com/smoldrop/redeem/internal/server"
)

// Shape selects how the twin encodes its answers. Real workflows differ in
// whether the last node returns an item list, a single item or plain text.
type Shape string

const (
	// ShapeObject answers with a JSON object.
	ShapeObject Shape = "object"
	// ShapeArray wraps the object in a one-element list.
	ShapeArray Shape = "array"
	// ShapeBare omits the result field on success.
	ShapeBare Shape = "bare"
	// ShapeText answers failures with a plain-text error literal.
	ShapeText Shape = "text"
)

// ParseShape validates a shape name. The empty string means object.
func ParseShape(s string) (Shape, error) {
	switch Shape(s) {
	case "":
		return ShapeObject, nil
	case ShapeObject, ShapeArray, ShapeBare, ShapeText:
		return Shape(s), nil
	}
	return "", fmt.Errorf("unknown shape %q (want object, array, bare or text)", s)
}

// write encodes body in shape s. body is modified.
func (s Shape) write(w http.ResponseWriter, status int, body map[string]any) {
	switch s {
	case ShapeText:
		if status >= 400 {
			msg, _ := body["error"].(string)
			if msg == "" {
				msg, _ = body["result"].(string)
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(status)
			fmt.Fprint(w, msg)
			return
		}
	case ShapeBare:
		if body["result"] == ResultSuccess {
			delete(body, "result")
		}
	case ShapeArray:
		server.JSON(w, status, []map[string]any{body})
		return
	}
	server.JSON(w, status, body)
}
