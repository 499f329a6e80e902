package core

// User is a registered identity's public profile (§3).
type User struct {
	ID          Identity
	DisplayName string
	RealName    string
	Bio         map[string]string
	Services    map[string]struct{}
	Avatar      []byte
}

func newUser(id Identity) *User {
	return &User{ID: id, Bio: make(map[string]string), Services: make(map[string]struct{})}
}

func (u *User) clone() *User {
	out := &User{ID: u.ID, DisplayName: u.DisplayName, RealName: u.RealName}
	out.Bio = make(map[string]string, len(u.Bio))
	for k, v := range u.Bio {
		out.Bio[k] = v
	}
	out.Services = make(map[string]struct{}, len(u.Services))
	for k := range u.Services {
		out.Services[k] = struct{}{}
	}
	if u.Avatar != nil {
		out.Avatar = append([]byte(nil), u.Avatar...)
	}
	return out
}

// UpdateKind is the closed set of mutations a UserUpdate may carry (§3).
type UpdateKind int

const (
	UpdateDisplayName UpdateKind = iota
	UpdateRealName
	UpdateSetBioLine
	UpdateRemoveBioLine
	UpdateAddService
	UpdateRemoveService
	UpdateAvatarData
)

// UserUpdate is one mutation from the closed UserUpdate variant set.
type UserUpdate struct {
	Kind    UpdateKind
	Text    string // DisplayName, RealName, AddService, RemoveService
	BioKey  string // SetBioLine, RemoveBioLine
	BioVal  string // SetBioLine
	Avatar  []byte // AvatarData
}

// DisplayNameUpdate builds an UpdateDisplayName mutation.
func DisplayNameUpdate(name string) UserUpdate { return UserUpdate{Kind: UpdateDisplayName, Text: name} }

// RealNameUpdate builds an UpdateRealName mutation.
func RealNameUpdate(name string) UserUpdate { return UserUpdate{Kind: UpdateRealName, Text: name} }

// SetBioLineUpdate builds an UpdateSetBioLine mutation.
func SetBioLineUpdate(key, val string) UserUpdate {
	return UserUpdate{Kind: UpdateSetBioLine, BioKey: key, BioVal: val}
}

// RemoveBioLineUpdate builds an UpdateRemoveBioLine mutation.
func RemoveBioLineUpdate(key string) UserUpdate {
	return UserUpdate{Kind: UpdateRemoveBioLine, BioKey: key}
}

// AddServiceUpdate builds an UpdateAddService mutation.
func AddServiceUpdate(service string) UserUpdate { return UserUpdate{Kind: UpdateAddService, Text: service} }

// RemoveServiceUpdate builds an UpdateRemoveService mutation.
func RemoveServiceUpdate(service string) UserUpdate {
	return UserUpdate{Kind: UpdateRemoveService, Text: service}
}

// AvatarDataUpdate builds an UpdateAvatarData mutation.
func AvatarDataUpdate(data []byte) UserUpdate { return UserUpdate{Kind: UpdateAvatarData, Avatar: data} }

func applyUserUpdate(u *User, up UserUpdate) {
	switch up.Kind {
	case UpdateDisplayName:
		u.DisplayName = up.Text
	case UpdateRealName:
		u.RealName = up.Text
	case UpdateSetBioLine:
		u.Bio[up.BioKey] = up.BioVal
	case UpdateRemoveBioLine:
		delete(u.Bio, up.BioKey)
	case UpdateAddService:
		u.Services[up.Text] = struct{}{}
	case UpdateRemoveService:
		delete(u.Services, up.Text)
	case UpdateAvatarData:
		u.Avatar = up.Avatar
	}
}

// TrustLevel classifies a contact's standing (§3 expansion).
type TrustLevel int

const (
	TrustUnknown TrustLevel = iota
	TrustKnown
	TrustTrusted
)

// Contact supplements the message/user model with the contact book
// dropped from the distilled spec but present in the original
// implementation's contacts API.
type Contact struct {
	ID    Identity
	Trust TrustLevel
	Meta  map[string]string
}

func (c *Contact) clone() *Contact {
	out := &Contact{ID: c.ID, Trust: c.Trust, Meta: make(map[string]string, len(c.Meta))}
	for k, v := range c.Meta {
		out.Meta[k] = v
	}
	return out
}
