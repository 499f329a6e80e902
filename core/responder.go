package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Responder deserializes envelopes, dispatches typed requests into the
// hub's subsystems, and re-wraps the result, preserving the envelope id
// exactly (§4.I). Subscription ids are minted with google/uuid since,
// unlike the auth Token in hub.go, a subscription handle is a pure
// correlation token with no confidentiality requirement.
type Responder struct {
	hub *Hub

	subMu sync.Mutex
	subs  map[string]*subPair

	logger *logrus.Entry
}

type subPair struct {
	global *Subscription
	user   *Subscription
}

// NewResponder builds a Responder dispatching into hub.
func NewResponder(hub *Hub) *Responder {
	return &Responder{
		hub:    hub,
		subs:   make(map[string]*subPair),
		logger: logrus.WithField("component", "responder"),
	}
}

// Dispatch handles one request envelope and returns its response envelope,
// echoing env.ID exactly. A malformed envelope (no request) still yields a
// Response::Error rather than a transport failure, per §7.
func (r *Responder) Dispatch(ctx context.Context, env Envelope) Envelope {
	if env.Req == nil {
		return ResponseEnvelope(env.ID, ErrorResponse(NewError(CodeInvalidPayload, "envelope carries no request")))
	}
	resp := r.dispatch(ctx, *env.Req)
	return ResponseEnvelope(env.ID, resp)
}

func (r *Responder) auth(req Request) (UserAuth, error) {
	if req.Auth == nil {
		return UserAuth{}, NewError(CodeNotAuthorised, "request carries no auth block")
	}
	return req.Auth.toUserAuth()
}

func (r *Responder) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind {
	case ReqUserCreate:
		return r.userCreate(req)
	case ReqUserDelete:
		return r.userDelete(req)
	case ReqUserLogin:
		return r.userLogin(req)
	case ReqUserLogout:
		return r.userLogout(req)
	case ReqUserUpdate:
		return r.userUpdate(req)
	case ReqUserGet:
		return r.userGet(req)
	case ReqUserList, ReqUserListLocal, ReqUserListRemote:
		return r.userList()
	case ReqUserChangePassword:
		return r.userChangePassword(req)
	case ReqContactModify:
		return r.contactModify(req)
	case ReqContactGet:
		return r.contactGet(req)
	case ReqContactQuery:
		return r.contactQuery(req)
	case ReqContactAll:
		return r.contactAll(req)
	case ReqMessageSend:
		return r.messageSend(req, req.Associator)
	case ReqMessageQuery:
		return r.messageQuery(req, req.Associator, RespMessage)
	case ReqMessageSub:
		return r.messageSub(req, req.Associator)
	case ReqMessageNext:
		return r.messageNext(ctx, req)
	case ReqChatCreate:
		return r.messageSend(req, chatAssociator(req))
	case ReqChatQuery:
		return r.messageQuery(req, chatAssociator(req), RespChatMessages)
	case ReqVoiceCallStart, ReqVoiceCallEnd:
		return Response{Kind: RespVoice}
	default:
		return ErrorResponse(NewError(CodeInvalidPayload, "unknown request kind"))
	}
}

const (
	chatServiceName = "net.mistnet.chat"
	chatRoomTagKey  = "room"
)

func chatAssociator(req Request) string {
	if req.Associator != "" {
		return req.Associator
	}
	return chatServiceName
}

func (r *Responder) userCreate(req Request) Response {
	id, err := ParseIdentity(req.UserID)
	if err != nil {
		return ErrorResponse(Wrap(CodeInvalidPayload, "user_id", err))
	}
	ua, err := r.hub.CreateUser(id)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Kind: RespAuth, Auth: &ua}
}

func (r *Responder) userDelete(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	if err := r.hub.DeleteUser(ua); err != nil {
		return ErrorResponse(err)
	}
	return SuccessResponse()
}

func (r *Responder) userLogin(req Request) Response {
	id, err := ParseIdentity(req.UserID)
	if err != nil {
		return ErrorResponse(Wrap(CodeInvalidPayload, "user_id", err))
	}
	ua, err := r.hub.Login(id)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Kind: RespAuth, Auth: &ua}
}

func (r *Responder) userLogout(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	if err := r.hub.Logout(ua); err != nil {
		return ErrorResponse(err)
	}
	return SuccessResponse()
}

func (r *Responder) userUpdate(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	var update UserUpdate
	switch UpdateKind(req.UpdateKind) {
	case UpdateDisplayName:
		update = DisplayNameUpdate(req.DisplayName)
	case UpdateRealName:
		update = RealNameUpdate(req.RealName)
	case UpdateSetBioLine:
		update = SetBioLineUpdate(req.BioKey, req.BioValue)
	case UpdateRemoveBioLine:
		update = RemoveBioLineUpdate(req.BioKey)
	case UpdateAddService:
		update = AddServiceUpdate(req.Service)
	case UpdateRemoveService:
		update = RemoveServiceUpdate(req.Service)
	case UpdateAvatarData:
		update = AvatarDataUpdate(req.Avatar)
	default:
		return ErrorResponse(NewError(CodeInvalidPayload, "unknown update_kind"))
	}
	if err := r.hub.UpdateUser(ua, update); err != nil {
		return ErrorResponse(err)
	}
	return SuccessResponse()
}

func (r *Responder) userGet(req Request) Response {
	id, err := ParseIdentity(req.UserID)
	if err != nil {
		return ErrorResponse(Wrap(CodeInvalidPayload, "user_id", err))
	}
	u, err := r.hub.GetUser(id)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Kind: RespUser, Users: []UserWire{userToWire(u)}}
}

func (r *Responder) userList() Response {
	users := r.hub.ListUsers()
	out := make([]UserWire, len(users))
	for i, u := range users {
		out[i] = userToWire(u)
	}
	return Response{Kind: RespUser, Users: out}
}

func (r *Responder) userChangePassword(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	next, err := r.hub.ChangePassword(ua)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Kind: RespAuth, Auth: &next}
}

func (r *Responder) contactModify(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	cid, err := ParseIdentity(req.ContactID)
	if err != nil {
		return ErrorResponse(Wrap(CodeInvalidPayload, "contact_id", err))
	}
	if err := r.hub.AddContact(ua, cid, TrustLevel(req.Trust)); err != nil {
		return ErrorResponse(err)
	}
	return SuccessResponse()
}

func (r *Responder) contactGet(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	cid, err := ParseIdentity(req.ContactID)
	if err != nil {
		return ErrorResponse(Wrap(CodeInvalidPayload, "contact_id", err))
	}
	c, err := r.hub.GetContact(ua, cid)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Kind: RespContact, Contacts: []ContactWire{contactToWire(c)}}
}

func (r *Responder) contactQuery(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	cs, err := r.hub.QueryContacts(ua, TrustLevel(req.Trust))
	if err != nil {
		return ErrorResponse(err)
	}
	out := make([]ContactWire, len(cs))
	for i, c := range cs {
		out[i] = contactToWire(c)
	}
	return Response{Kind: RespContact, Contacts: out}
}

func (r *Responder) contactAll(req Request) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	cs, err := r.hub.AllContacts(ua)
	if err != nil {
		return ErrorResponse(err)
	}
	out := make([]ContactWire, len(cs))
	for i, c := range cs {
		out[i] = contactToWire(c)
	}
	return Response{Kind: RespContact, Contacts: out}
}

func (r *Responder) messageSend(req Request, associator string) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	var id Identity
	a, b := uuid.New(), uuid.New()
	copy(id[:16], a[:])
	copy(id[16:], b[:])

	payload := req.Payload
	if payload == nil && req.Text != "" {
		payload = []byte(req.Text)
	}
	msg := Message{ID: id, Sender: ua.ID, Associator: associator, Payload: payload}
	if req.Room != "" {
		msg.Tags = NewTagSet(Tag{Key: chatRoomTagKey, Value: []byte(req.Room)})
	}

	mode := ModeFlood
	var recipient *Identity
	if !req.Flood {
		mode = ModeDirect
		if req.Recipient != "" {
			rid, err := ParseIdentity(req.Recipient)
			if err != nil {
				return ErrorResponse(Wrap(CodeInvalidPayload, "recipient", err))
			}
			recipient = &rid
		}
	}

	rec, err := r.hub.Messages().InsertLocal(ua.ID, msg, mode)
	if err != nil {
		return ErrorResponse(err)
	}
	if recipient != nil {
		remoteMsg := msg
		if _, err := r.hub.Messages().InsertRemote(recipient, remoteMsg); err != nil {
			return ErrorResponse(err)
		}
	}

	if associator == chatServiceName || req.Room != "" {
		cm := chatFromRecord(rec)
		cm.Room = req.Room
		cm.Content = string(payload)
		return Response{Kind: RespChatMessage, ChatMessage: &cm}
	}
	return Response{Kind: RespMsgID, MsgID: msg.ID.String()}
}

func (r *Responder) messageQuery(req Request, associator string, kind ResponseKind) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	q := MsgQuery{Service: associator}
	if req.Sender != "" {
		sid, err := ParseIdentity(req.Sender)
		if err != nil {
			return ErrorResponse(Wrap(CodeInvalidPayload, "sender", err))
		}
		q.Sender = &sid
	}
	if req.Room != "" {
		q.ExtraTags = NewTagSet(Tag{Key: chatRoomTagKey, Value: []byte(req.Room)})
	}
	it, err := r.hub.Messages().Query(ua.ID, q)
	if err != nil {
		return ErrorResponse(err)
	}
	var msgs []MessageWire
	for {
		rec, err := it.Next()
		if err != nil {
			return ErrorResponse(err)
		}
		if rec == nil {
			break
		}
		msgs = append(msgs, messageFromRecord(rec))
	}
	if kind == RespChatMessages {
		chats := make([]ChatMessageWire, len(msgs))
		for i, m := range msgs {
			chats[i] = ChatMessageWire{ID: m.ID, Sender: m.Sender, Room: req.Room, Content: string(m.Payload)}
		}
		return Response{Kind: RespChatMessages, ChatMessages: chats}
	}
	return Response{Kind: RespMessage, Messages: msgs}
}

func (r *Responder) messageSub(req Request, associator string) Response {
	ua, err := r.auth(req)
	if err != nil {
		return ErrorResponse(err)
	}
	q := MsgQuery{Service: associator}
	global, user := r.hub.Messages().Subscribe(ua.ID, q)

	id := uuid.NewString()
	r.subMu.Lock()
	r.subs[id] = &subPair{global: global, user: user}
	r.subMu.Unlock()

	return Response{Kind: RespSubscription, SubscriptionID: id}
}

func (r *Responder) messageNext(ctx context.Context, req Request) Response {
	if _, err := r.auth(req); err != nil {
		return ErrorResponse(err)
	}
	r.subMu.Lock()
	pair, ok := r.subs[req.SubscriptionID]
	r.subMu.Unlock()
	if !ok {
		return ErrorResponse(NewError(CodeNoData, "unknown subscription_id"))
	}

	type result struct {
		rec *Record
		err error
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := make(chan result, 2)
	go func() { rec, err := pair.global.Next(raceCtx); out <- result{rec, err} }()
	go func() { rec, err := pair.user.Next(raceCtx); out <- result{rec, err} }()

	res := <-out
	cancel()
	if res.err != nil {
		return ErrorResponse(res.err)
	}
	return Response{Kind: RespMessage, Messages: []MessageWire{messageFromRecord(res.rec)}}
}

// CancelSubscription releases and forgets a subscription minted by
// messageSub, used when a transport collaborator detects its client
// disconnected.
func (r *Responder) CancelSubscription(id string) {
	r.subMu.Lock()
	pair, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.subMu.Unlock()
	if ok {
		pair.global.Cancel()
		pair.user.Cancel()
	}
}
