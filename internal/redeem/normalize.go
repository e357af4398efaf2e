package redeem

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome indicator values the upstream is known to emit.
const (
	ResultSuccess         = "success"
	ResultAlreadyRedeemed = "already_redeemed"
)

// Normalize turns one raw upstream answer into an Outcome. All knowledge of
// the upstream's shape lives here:
//
//   - the body is kept as text; a body that is not JSON is not an error,
//     the text becomes the fallback payload;
//   - a JSON list is unwrapped to its first element, an empty list to {};
//   - the outcome indicator is the string field "result", else the string
//     field "status", else absent;
//   - success needs a 2xx status and an indicator that is exactly "success"
//     or absent; "already_redeemed" with a 2xx status is an idempotent
//     success; any other indicator, "ok" and "SUCCESS" included, is a denial;
//   - a failure message is taken from the payload's "error", then the
//     indicator, then the raw text, then UPSTREAM_HTTP_<status>.
func Normalize(status int, body []byte) Outcome {
	d := decode(body)
	indicator, payload, effective := d.indicator, d.payload, d.effective
	httpOK := status >= 200 && status < 300

	if httpOK && (indicator == "" || indicator == ResultSuccess) {
		return Outcome{
			OK:      true,
			Code:    CodeSuccess,
			Result:  indicator,
			Status:  ReasonNone.HTTPStatus(),
			Payload: payload,
		}
	}
	if httpOK && indicator == ResultAlreadyRedeemed {
		return Outcome{
			OK:      true,
			Code:    CodeAlreadyRedeemed,
			Message: indicator,
			Result:  indicator,
			Status:  ReasonNone.HTTPStatus(),
			Payload: payload,
		}
	}

	message := errorMessage(effective["error"])
	if message == "" {
		message = indicator
	}
	if message == "" && !d.parsedOK {
		message = d.raw
	}
	if message == "" {
		message = fmt.Sprintf("UPSTREAM_HTTP_%d", status)
	}

	return Outcome{
		OK:      false,
		Code:    CodeFailed,
		Reason:  ReasonDenied,
		Message: message,
		Result:  indicator,
		Status:  ReasonDenied.HTTPStatus(),
		Payload: payload,
	}
}

// decoded is an upstream body after shape reconciliation.
type decoded struct {
	raw       string
	parsedOK  bool
	payload   any            // parsed JSON, else raw text, else nil
	effective map[string]any // first list element or the object itself
	indicator string
}

func decode(body []byte) decoded {
	d := decoded{
		raw:       strings.TrimSpace(string(body)),
		effective: map[string]any{},
	}

	var parsed any
	d.parsedOK = len(body) > 0 && json.Unmarshal(body, &parsed) == nil
	switch {
	case d.parsedOK:
		d.payload = parsed
	case d.raw != "":
		d.payload = d.raw
	}

	if d.parsedOK {
		v := parsed
		if list, ok := v.([]any); ok {
			v = nil
			if len(list) > 0 {
				v = list[0]
			}
		}
		if obj, ok := v.(map[string]any); ok {
			d.effective = obj
		}
	}
	d.indicator = outcomeIndicator(d.effective)
	return d
}

// outcomeIndicator reads "result", falling back to "status". A present but
// null field counts as absent.
func outcomeIndicator(obj map[string]any) string {
	for _, key := range []string{"result", "status"} {
		switch v := obj[key].(type) {
		case nil:
			continue
		case string:
			return v
		default:
			if key == "result" {
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

func errorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case bool:
		if !e {
			return ""
		}
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
		if code, ok := e["code"].(string); ok && code != "" {
			return code
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
