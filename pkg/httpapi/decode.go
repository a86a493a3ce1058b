package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/kunal/llm-gateway/pkg/admission"
	"github.com/kunal/llm-gateway/pkg/apierr"
	"github.com/kunal/llm-gateway/pkg/types"
)

// decodeChatRequest parses and validates a ChatRequest body, writing
// a taxonomy 400 response and returning ok=false on any problem (spec
// §6: "400 | Malformed body, empty messages, unknown agent_kind.").
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	requestID := admission.RequestIDFrom(r)

	var req ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		admission.WriteTaxonomyError(w, apierr.New(apierr.KindAgentUnknown, fmt.Sprintf("malformed body: %v", err)).WithRequestID(requestID))
		return ChatRequest{}, false
	}

	if err := s.validate.Struct(req); err != nil {
		msg := "invalid request body"
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			msg = fmt.Sprintf("field %q failed %q validation", ve[0].Field(), ve[0].Tag())
		}
		admission.WriteTaxonomyError(w, apierr.New(apierr.KindAgentUnknown, msg).WithRequestID(requestID))
		return ChatRequest{}, false
	}

	return req, true
}

// resolveAgentKind validates the request's agent_kind, writing a 400
// taxonomy response on failure.
func (s *Server) resolveAgentKind(w http.ResponseWriter, r *http.Request, raw string) (types.AgentKind, bool) {
	kind, err := admission.ValidateAgentKind(raw, admission.RequestIDFrom(r))
	if err != nil {
		var ae *apierr.Error
		if as, ok := err.(*apierr.Error); ok {
			ae = as
		} else {
			ae = apierr.New(apierr.KindAgentUnknown, err.Error())
		}
		admission.WriteTaxonomyError(w, ae)
		return "", false
	}
	return kind, true
}
