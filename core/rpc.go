package core

import (
	"encoding/json"
	"fmt"
)

// RequestKind is the closed set of request variants dispatched by the
// responder (§4.I). Each maps onto one (kind, method) pair in the wire
// envelope.
type RequestKind int

const (
	ReqUserCreate RequestKind = iota
	ReqUserDelete
	ReqUserLogin
	ReqUserLogout
	ReqUserUpdate
	ReqUserGet
	ReqUserList
	ReqUserListLocal
	ReqUserListRemote
	ReqUserChangePassword
	ReqContactModify
	ReqContactGet
	ReqContactQuery
	ReqContactAll
	ReqMessageSend
	ReqMessageNext
	ReqMessageSub
	ReqMessageQuery
	ReqChatCreate
	ReqChatQuery
	ReqVoiceCallStart
	ReqVoiceCallEnd
)

type kindMethod struct{ Kind, Method string }

var requestWire = map[RequestKind]kindMethod{
	ReqUserCreate:         {"user", "create"},
	ReqUserDelete:         {"user", "delete"},
	ReqUserLogin:          {"user", "login"},
	ReqUserLogout:         {"user", "logout"},
	ReqUserUpdate:         {"user", "update"},
	ReqUserGet:            {"user", "get"},
	ReqUserList:           {"user", "list"},
	ReqUserListLocal:      {"user", "list_local"},
	ReqUserListRemote:     {"user", "list_remote"},
	ReqUserChangePassword: {"user", "change_pw"},
	ReqContactModify:      {"contact", "modify"},
	ReqContactGet:         {"contact", "get"},
	ReqContactQuery:       {"contact", "query"},
	ReqContactAll:         {"contact", "all"},
	ReqMessageSend:        {"message", "send"},
	ReqMessageNext:        {"message", "next"},
	ReqMessageSub:         {"message", "sub"},
	ReqMessageQuery:       {"message", "query"},
	ReqChatCreate:         {"chat_message", "create"},
	ReqChatQuery:          {"chat_message", "query"},
	ReqVoiceCallStart:     {"voice_call", "start"},
	ReqVoiceCallEnd:       {"voice_call", "end"},
}

var requestKindByWire = func() map[kindMethod]RequestKind {
	out := make(map[kindMethod]RequestKind, len(requestWire))
	for k, v := range requestWire {
		out[v] = k
	}
	return out
}()

// WireAuth is the envelope's optional `auth` block.
type WireAuth struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

func (w *WireAuth) toUserAuth() (UserAuth, error) {
	id, err := ParseIdentity(w.ID)
	if err != nil {
		return UserAuth{}, Wrap(CodeInvalidPayload, "auth.id", err)
	}
	return UserAuth{ID: id, Token: Token(w.Token)}, nil
}

// Request is the flat payload carried by every request variant; unused
// fields are omitted by field-level omitempty on the wire. Kind is set by
// the caller (for outbound envelopes) or by envelope decoding (for inbound
// ones) and is never itself part of the JSON data block — it lives in the
// envelope's "kind"/"method" fields instead.
type Request struct {
	Kind RequestKind `json:"-"`
	Auth *WireAuth   `json:"-"`

	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	RealName    string `json:"real_name,omitempty"`
	BioKey      string `json:"bio_key,omitempty"`
	BioValue    string `json:"bio_value,omitempty"`
	Service     string `json:"service,omitempty"`
	Avatar      []byte `json:"avatar,omitempty"`

	ContactID string `json:"contact_id,omitempty"`
	Trust     int    `json:"trust,omitempty"`

	MessageID      string `json:"message_id,omitempty"`
	Recipient      string `json:"recipient,omitempty"`
	Sender         string `json:"sender,omitempty"`
	Associator     string `json:"associator,omitempty"`
	Payload        []byte `json:"payload,omitempty"`
	Text           string `json:"text,omitempty"`
	Room           string `json:"room,omitempty"`
	Flood          bool   `json:"flood,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	UpdateKind     int    `json:"update_kind,omitempty"`

	CallID string `json:"call_id,omitempty"`
}

// ResponseKind is the closed set of response variants (§4.I).
type ResponseKind int

const (
	RespAuth ResponseKind = iota
	RespContact
	RespMessage
	RespMsgID
	RespSubscription
	RespSuccess
	RespUser
	RespUserID
	RespError
	RespChatMessage
	RespChatMessages
	RespVoice
)

var responseTag = map[ResponseKind]string{
	RespAuth:         "auth",
	RespContact:      "contact",
	RespMessage:      "message",
	RespMsgID:        "msg_id",
	RespSubscription: "subscription",
	RespSuccess:      "success",
	RespUser:         "user",
	RespUserID:       "user_id",
	RespError:        "error",
	RespChatMessage:  "chat_message",
	RespChatMessages: "chat_messages",
	RespVoice:        "voice",
}

var responseKindByTag = func() map[string]ResponseKind {
	out := make(map[string]ResponseKind, len(responseTag))
	for k, v := range responseTag {
		out[v] = k
	}
	return out
}()

// UserWire is the JSON projection of a User.
type UserWire struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name,omitempty"`
	RealName    string            `json:"real_name,omitempty"`
	Bio         map[string]string `json:"bio,omitempty"`
	Services    []string          `json:"services,omitempty"`
	Avatar      []byte            `json:"avatar,omitempty"`
}

func userToWire(u *User) UserWire {
	services := make([]string, 0, len(u.Services))
	for s := range u.Services {
		services = append(services, s)
	}
	return UserWire{
		ID: u.ID.String(), DisplayName: u.DisplayName, RealName: u.RealName,
		Bio: u.Bio, Services: services, Avatar: u.Avatar,
	}
}

// ContactWire is the JSON projection of a Contact.
type ContactWire struct {
	ID    string `json:"id"`
	Trust int    `json:"trust"`
}

func contactToWire(c *Contact) ContactWire {
	return ContactWire{ID: c.ID.String(), Trust: int(c.Trust)}
}

// MessageWire is the JSON projection of a stored Message record.
type MessageWire struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Associator string `json:"associator"`
	Payload    []byte `json:"payload"`
	Unread     bool   `json:"unread"`
}

func messageFromRecord(r *Record) MessageWire {
	w := MessageWire{Unread: r.Header.Tags.Contains(EmptyTag(TagUnread))}
	if p, ok := r.Data["payload"]; ok {
		w.Payload = p.Bytes
	}
	for _, t := range r.Header.Tags.Slice() {
		switch t.Key {
		case TagSender:
			var id Identity
			copy(id[:], t.Value)
			w.Sender = id.String()
		case TagService:
			w.Associator = string(t.Value)
		}
	}
	path := r.Header.Path // "/msg:<hex>"
	if len(path) > 5 {
		w.ID = path[5:]
	}
	return w
}

// ChatMessageWire is the "chat_message" feature variant's wire shape.
type ChatMessageWire struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Room    string `json:"room"`
	Content string `json:"content"`
}

func chatFromRecord(r *Record) ChatMessageWire {
	m := messageFromRecord(r)
	room := ""
	for _, t := range r.Header.Tags.Slice() {
		if t.Key == chatRoomTagKey {
			room = string(t.Value)
			break
		}
	}
	return ChatMessageWire{ID: m.ID, Sender: m.Sender, Room: room, Content: string(m.Payload)}
}

// Response is the flat payload behind every response variant, matching
// Request's shape. Only the fields relevant to Kind are populated.
type Response struct {
	Kind ResponseKind

	Auth           *UserAuth
	Contacts       []ContactWire
	Messages       []MessageWire
	MsgID          string
	SubscriptionID string
	Users          []UserWire
	UserIDs        []string
	ErrorText      string
	ChatMessage    *ChatMessageWire
	ChatMessages   []ChatMessageWire
}

// SuccessResponse builds a bare Success variant.
func SuccessResponse() Response { return Response{Kind: RespSuccess} }

// ErrorResponse converts err into a Response::Error(display(e)), per §7.
func ErrorResponse(err error) Response {
	return Response{Kind: RespError, ErrorText: err.Error()}
}

func (r Response) payload() (interface{}, error) {
	switch r.Kind {
	case RespAuth:
		if r.Auth == nil {
			return nil, fmt.Errorf("rpc: auth response missing payload")
		}
		return WireAuth{ID: r.Auth.ID.String(), Token: string(r.Auth.Token)}, nil
	case RespContact:
		return r.Contacts, nil
	case RespMessage:
		return r.Messages, nil
	case RespMsgID:
		return r.MsgID, nil
	case RespSubscription:
		return r.SubscriptionID, nil
	case RespSuccess:
		return true, nil
	case RespUser:
		return r.Users, nil
	case RespUserID:
		return r.UserIDs, nil
	case RespError:
		return r.ErrorText, nil
	case RespChatMessage:
		return r.ChatMessage, nil
	case RespChatMessages:
		return r.ChatMessages, nil
	case RespVoice:
		return true, nil
	default:
		return nil, fmt.Errorf("rpc: unknown response kind %d", r.Kind)
	}
}

// MarshalJSON renders data as the single-key `{tag: payload}` map §6
// describes for responses.
func (r Response) MarshalJSON() ([]byte, error) {
	tag, ok := responseTag[r.Kind]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown response kind %d", r.Kind)
	}
	payload, err := r.payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{tag: payload})
}

// UnmarshalJSON parses the single-key `{tag: payload}` map back into a
// typed Response, the inverse of MarshalJSON.
func (r *Response) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("rpc: response data must carry exactly one variant tag")
	}
	var tag string
	var payload json.RawMessage
	for k, v := range raw {
		tag, payload = k, v
	}
	kind, ok := responseKindByTag[tag]
	if !ok {
		return fmt.Errorf("rpc: unknown response tag %q", tag)
	}
	r.Kind = kind
	switch kind {
	case RespAuth:
		var w WireAuth
		if err := json.Unmarshal(payload, &w); err != nil {
			return err
		}
		ua, err := w.toUserAuth()
		if err != nil {
			return err
		}
		r.Auth = &ua
	case RespContact:
		return json.Unmarshal(payload, &r.Contacts)
	case RespMessage:
		return json.Unmarshal(payload, &r.Messages)
	case RespMsgID:
		return json.Unmarshal(payload, &r.MsgID)
	case RespSubscription:
		return json.Unmarshal(payload, &r.SubscriptionID)
	case RespSuccess, RespVoice:
		// boolean marker only, nothing to capture
	case RespUser:
		return json.Unmarshal(payload, &r.Users)
	case RespUserID:
		return json.Unmarshal(payload, &r.UserIDs)
	case RespError:
		return json.Unmarshal(payload, &r.ErrorText)
	case RespChatMessage:
		var c ChatMessageWire
		if err := json.Unmarshal(payload, &c); err != nil {
			return err
		}
		r.ChatMessage = &c
	case RespChatMessages:
		return json.Unmarshal(payload, &r.ChatMessages)
	}
	return nil
}

// Envelope is the RPC correlation wrapper {id, data: Request|Response}
// (§3, §6). Exactly one of Req or Resp is set.
type Envelope struct {
	ID   string
	Req  *Request
	Resp *Response
}

// RequestEnvelope builds an Envelope carrying a request.
func RequestEnvelope(id string, req Request) Envelope {
	return Envelope{ID: id, Req: &req}
}

// ResponseEnvelope builds an Envelope carrying a response.
func ResponseEnvelope(id string, resp Response) Envelope {
	return Envelope{ID: id, Resp: &resp}
}

type wireRequestEnvelope struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Auth   *WireAuth       `json:"auth,omitempty"`
}

type wireResponseEnvelope struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders the envelope in the shape §6 specifies: request
// envelopes carry kind/method/data/auth; response envelopes carry a single
// data map keyed by variant tag.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch {
	case e.Req != nil:
		km, ok := requestWire[e.Req.Kind]
		if !ok {
			return nil, fmt.Errorf("rpc: unknown request kind %d", e.Req.Kind)
		}
		data, err := json.Marshal(e.Req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireRequestEnvelope{
			ID: e.ID, Kind: km.Kind, Method: km.Method, Data: data, Auth: e.Req.Auth,
		})
	case e.Resp != nil:
		data, err := json.Marshal(*e.Resp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireResponseEnvelope{ID: e.ID, Data: data})
	default:
		return nil, fmt.Errorf("rpc: empty envelope")
	}
}

// UnmarshalJSON parses either a request or a response envelope, disambiguated
// by the presence of "kind"/"method" fields.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var probe struct {
		Kind   *string `json:"kind"`
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if probe.Kind != nil && probe.Method != nil {
		var wre wireRequestEnvelope
		if err := json.Unmarshal(b, &wre); err != nil {
			return err
		}
		kind, ok := requestKindByWire[kindMethod{wre.Kind, wre.Method}]
		if !ok {
			return fmt.Errorf("rpc: unknown request kind/method %q/%q", wre.Kind, wre.Method)
		}
		var req Request
		if len(wre.Data) > 0 {
			if err := json.Unmarshal(wre.Data, &req); err != nil {
				return err
			}
		}
		req.Kind = kind
		req.Auth = wre.Auth
		e.ID, e.Req, e.Resp = wre.ID, &req, nil
		return nil
	}
	var wre wireResponseEnvelope
	if err := json.Unmarshal(b, &wre); err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(wre.Data, &resp); err != nil {
		return err
	}
	e.ID, e.Req, e.Resp = wre.ID, nil, &resp
	return nil
}
