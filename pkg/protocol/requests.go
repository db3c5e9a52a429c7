package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Request types
const (
	TypeLogin               = "login"
	TypeUserOnline          = "user_online"
	TypeUserOffline         = "user_offline"
	TypeLogout              = "logout"
	TypeSendMessage         = "send_message"
	TypeGetMessages         = "get_messages"
	TypeGetContacts         = "get_contacts"
	TypeGetUnreadMessages   = "get_unread_messages"
	TypeMarkMessagesAsRead  = "mark_messages_as_read"
	TypeHasVisibleMessages  = "has_visible_messages"
	TypeAddContact          = "add_contact"
	TypeDeleteContact       = "delete_contact"
	TypeUpdateContactRemark = "update_contact_remark"

	TypeRegister       = "register"
	TypeUpdateRole     = "update_role"
	TypeProfile        = "profile"
	TypeUpdateProfile  = "update_profile"
	TypeGetUserProfile = "get_user_profile"
	TypeBindQQ         = "bind_qq"
	TypeGetAllUsers    = "get_all_users"
	TypeGetUsersCount  = "get_users_count"
	TypeGetUsersByPage = "get_users_by_page"
	TypeSign           = "sign"
	TypeLeaderboard    = "leaderboard"

	TypeAddToWhitelist               = "add_to_whitelist"
	TypeRemoveFromWhitelist          = "remove_from_whitelist"
	TypeWhitelistApply               = "whitelist_apply"
	TypeGetUserWhitelistApplications = "get_user_whitelist_applications"
	TypeGetAllWhitelistApplications  = "get_all_whitelist_applications"
	TypeProcessWhitelistApplication  = "process_whitelist_application"

	TypeGiveGift    = "give_gift"
	TypeGetGiftInfo = "get_gift_info"

	// TypeRealTimeMessage tags server pushes. It is never a request.
	TypeRealTimeMessage = "real_time_message"
)

// ErrUnknownType is returned by ParseRequest for a type outside the closed set.
var ErrUnknownType = errors.New("unknown request type")

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Invalid bool
}

func (e *ValidationError) Error() string {
	if e.Invalid {
		return "invalid field " + e.Field
	}
	return "missing field " + e.Field
}

func missing(field string) error { return &ValidationError{Field: field} }

// Envelope is the part of every request read before the body is parsed.
type Envelope struct {
	Type string          `json:"type"`
	Seq  json.RawMessage `json:"seq,omitempty"`
}

// ID is a user identity. Clients send it either as a JSON number or as a
// decimal string, so both are accepted.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// encoding/json fills in Field for this error type.
		return &json.UnmarshalTypeError{Value: "id " + s, Type: reflect.TypeOf(*id)}
	}
	*id = ID(n)
	return nil
}

// String renders the id the way unread_details keys it.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Request is one member of the closed set of request shapes.
type Request interface {
	RequestType() string
	Validate() error
}

var requestTypes = map[string]func() Request{
	TypeLogin:               func() Request { return &LoginRequest{} },
	TypeUserOnline:          func() Request { return &UserOnlineRequest{} },
	TypeUserOffline:         func() Request { return &UserOfflineRequest{} },
	TypeLogout:              func() Request { return &UserOfflineRequest{logout: true} },
	TypeSendMessage:         func() Request { return &SendMessageRequest{} },
	TypeGetMessages:         func() Request { return &GetMessagesRequest{} },
	TypeGetContacts:         func() Request { return &GetContactsRequest{} },
	TypeGetUnreadMessages:   func() Request { return &GetUnreadMessagesRequest{} },
	TypeMarkMessagesAsRead:  func() Request { return &MarkMessagesAsReadRequest{} },
	TypeHasVisibleMessages:  func() Request { return &HasVisibleMessagesRequest{} },
	TypeAddContact:          func() Request { return &AddContactRequest{} },
	TypeDeleteContact:       func() Request { return &DeleteContactRequest{} },
	TypeUpdateContactRemark: func() Request { return &UpdateContactRemarkRequest{} },

	TypeRegister:       func() Request { return &RegisterRequest{} },
	TypeUpdateRole:     func() Request { return &UpdateRoleRequest{} },
	TypeProfile:        func() Request { return &ProfileRequest{} },
	TypeUpdateProfile:  func() Request { return &UpdateProfileRequest{} },
	TypeGetUserProfile: func() Request { return &GetUserProfileRequest{} },
	TypeBindQQ:         func() Request { return &BindQQRequest{} },
	TypeGetAllUsers:    func() Request { return &GetAllUsersRequest{} },
	TypeGetUsersCount:  func() Request { return &GetUsersCountRequest{} },
	TypeGetUsersByPage: func() Request { return &GetUsersByPageRequest{} },
	TypeSign:           func() Request { return &SignRequest{} },
	TypeLeaderboard:    func() Request { return &LeaderboardRequest{} },

	TypeAddToWhitelist:               func() Request { return &AddToWhitelistRequest{} },
	TypeRemoveFromWhitelist:          func() Request { return &RemoveFromWhitelistRequest{} },
	TypeWhitelistApply:               func() Request { return &WhitelistApplyRequest{} },
	TypeGetUserWhitelistApplications: func() Request { return &GetUserWhitelistApplicationsRequest{} },
	TypeGetAllWhitelistApplications:  func() Request { return &GetAllWhitelistApplicationsRequest{} },
	TypeProcessWhitelistApplication:  func() Request { return &ProcessWhitelistApplicationRequest{} },

	TypeGiveGift:    func() Request { return &GiveGiftRequest{} },
	TypeGetGiftInfo: func() Request { return &GetGiftInfoRequest{} },
}

// KnownTypes lists every request type ParseRequest accepts, sorted.
func KnownTypes() []string {
	types := make([]string, 0, len(requestTypes))
	for t := range requestTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ParseEnvelope decodes the type and seq of a request body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return env, &ValidationError{Field: typeErr.Field, Invalid: true}
		}
		return env, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return env, nil
}

// ParseRequest decodes body into the concrete request struct for typ and
// checks its required fields.
func ParseRequest(typ string, body []byte) (Request, error) {
	newRequest, ok := requestTypes[typ]
	if !ok {
		return nil, ErrUnknownType
	}

	req := newRequest()
	if err := json.Unmarshal(body, req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Field: typeErr.Field, Invalid: true}
		}
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func requireID(field string, id ID) error {
	if id <= 0 {
		return missing(field)
	}
	return nil
}

func requireString(field, v string) error {
	if v == "" {
		return missing(field)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Presence and chat

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientIP string `json:"client_ip,omitempty"`
}

func (*LoginRequest) RequestType() string { return TypeLogin }
func (r *LoginRequest) Validate() error {
	return firstError(requireString("username", r.Username), requireString("password", r.Password))
}

type UserOnlineRequest struct {
	UserID ID `json:"user_id"`
}

func (*UserOnlineRequest) RequestType() string { return TypeUserOnline }
func (r *UserOnlineRequest) Validate() error   { return requireID("user_id", r.UserID) }

// UserOfflineRequest is shared by user_offline and logout. A logout may omit
// user_id; the session's bound identity is used instead.
type UserOfflineRequest struct {
	UserID ID `json:"user_id"`
	logout bool
}

// NewLogoutRequest builds a logout for the session's bound identity.
func NewLogoutRequest() *UserOfflineRequest {
	return &UserOfflineRequest{logout: true}
}

func (r *UserOfflineRequest) RequestType() string {
	if r.logout {
		return TypeLogout
	}
	return TypeUserOffline
}

func (r *UserOfflineRequest) Validate() error {
	if r.logout {
		return nil
	}
	return requireID("user_id", r.UserID)
}

type SendMessageRequest struct {
	SenderID   ID     `json:"sender_id"`
	ReceiverID ID     `json:"receiver_id"`
	Content    string `json:"content"`
}

func (*SendMessageRequest) RequestType() string { return TypeSendMessage }
func (r *SendMessageRequest) Validate() error {
	return firstError(
		requireID("sender_id", r.SenderID),
		requireID("receiver_id", r.ReceiverID),
		requireString("content", r.Content),
	)
}

// PairRequest is the (user_id, contact_id) shape shared by several requests.
type PairRequest struct {
	UserID    ID `json:"user_id"`
	ContactID ID `json:"contact_id"`
}

func (r *PairRequest) Validate() error {
	return firstError(requireID("user_id", r.UserID), requireID("contact_id", r.ContactID))
}

type GetMessagesRequest struct{ PairRequest }

func (*GetMessagesRequest) RequestType() string { return TypeGetMessages }

type MarkMessagesAsReadRequest struct{ PairRequest }

func (*MarkMessagesAsReadRequest) RequestType() string { return TypeMarkMessagesAsRead }

type HasVisibleMessagesRequest struct{ PairRequest }

func (*HasVisibleMessagesRequest) RequestType() string { return TypeHasVisibleMessages }

type DeleteContactRequest struct{ PairRequest }

func (*DeleteContactRequest) RequestType() string { return TypeDeleteContact }

type AddContactRequest struct {
	PairRequest
	Remark string `json:"remark,omitempty"`
}

func (*AddContactRequest) RequestType() string { return TypeAddContact }

type UpdateContactRemarkRequest struct {
	PairRequest
	Remark string `json:"remark"`
}

func (*UpdateContactRemarkRequest) RequestType() string { return TypeUpdateContactRemark }

// UserRequest is the single user_id shape.
type UserRequest struct {
	UserID ID `json:"user_id"`
}

func (r *UserRequest) Validate() error { return requireID("user_id", r.UserID) }

type GetContactsRequest struct{ UserRequest }

func (*GetContactsRequest) RequestType() string { return TypeGetContacts }

type GetUnreadMessagesRequest struct{ UserRequest }

func (*GetUnreadMessagesRequest) RequestType() string { return TypeGetUnreadMessages }

// Accounts

type RegisterRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Nickname   string `json:"nickname"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	PlayerName string `json:"playername"`
}

func (*RegisterRequest) RequestType() string { return TypeRegister }
func (r *RegisterRequest) Validate() error {
	return firstError(
		requireString("username", r.Username),
		requireString("password", r.Password),
		requireString("nickname", r.Nickname),
		requireString("email", r.Email),
		requireString("phone", r.Phone),
		requireString("playername", r.PlayerName),
	)
}

type UpdateRoleRequest struct {
	UserID ID   `json:"user_id"`
	RoleID *int `json:"role_id"`
}

func (*UpdateRoleRequest) RequestType() string { return TypeUpdateRole }
func (r *UpdateRoleRequest) Validate() error {
	if err := requireID("user_id", r.UserID); err != nil {
		return err
	}
	if r.RoleID == nil {
		return missing("role_id")
	}
	return nil
}

type ProfileRequest struct{ UserRequest }

func (*ProfileRequest) RequestType() string { return TypeProfile }

// UpdateProfileRequest leaves a field unchanged when it is absent.
type UpdateProfileRequest struct {
	UserID    ID      `json:"user_id"`
	Nickname  *string `json:"nickname,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Password  *string `json:"password,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Gender    *string `json:"gender,omitempty"`
	Birthday  *string `json:"birthday,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

func (*UpdateProfileRequest) RequestType() string { return TypeUpdateProfile }
func (r *UpdateProfileRequest) Validate() error   { return requireID("user_id", r.UserID) }

type GetUserProfileRequest struct {
	UserID   ID `json:"user_id"`
	TargetID ID `json:"target_id"`
}

func (*GetUserProfileRequest) RequestType() string { return TypeGetUserProfile }
func (r *GetUserProfileRequest) Validate() error {
	return firstError(requireID("user_id", r.UserID), requireID("target_id", r.TargetID))
}

type BindQQRequest struct {
	UserID ID     `json:"user_id"`
	QQ     string `json:"qq"`
}

func (*BindQQRequest) RequestType() string { return TypeBindQQ }
func (r *BindQQRequest) Validate() error {
	return firstError(requireID("user_id", r.UserID), requireString("qq", r.QQ))
}

type GetAllUsersRequest struct{}

func (*GetAllUsersRequest) RequestType() string { return TypeGetAllUsers }
func (*GetAllUsersRequest) Validate() error     { return nil }

type GetUsersCountRequest struct{}

func (*GetUsersCountRequest) RequestType() string { return TypeGetUsersCount }
func (*GetUsersCountRequest) Validate() error     { return nil }

type GetUsersByPageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (*GetUsersByPageRequest) RequestType() string { return TypeGetUsersByPage }

// Validate fills the defaults of page 1 and 10 rows.
func (r *GetUsersByPageRequest) Validate() error {
	if r.Page <= 0 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = 10
	}
	return nil
}

type SignRequest struct{ UserRequest }

func (*SignRequest) RequestType() string { return TypeSign }

type LeaderboardRequest struct{}

func (*LeaderboardRequest) RequestType() string { return TypeLeaderboard }
func (*LeaderboardRequest) Validate() error     { return nil }

// Whitelist

type AddToWhitelistRequest struct{ UserRequest }

func (*AddToWhitelistRequest) RequestType() string { return TypeAddToWhitelist }

type RemoveFromWhitelistRequest struct{ UserRequest }

func (*RemoveFromWhitelistRequest) RequestType() string { return TypeRemoveFromWhitelist }

type WhitelistApplyRequest struct {
	UserID     ID     `json:"user_id"`
	PlayerName string `json:"playername"`
	Genuine    *int   `json:"genuine"`
	Reason     string `json:"reason"`
}

func (*WhitelistApplyRequest) RequestType() string { return TypeWhitelistApply }
func (r *WhitelistApplyRequest) Validate() error {
	if err := firstError(requireID("user_id", r.UserID), requireString("playername", r.PlayerName)); err != nil {
		return err
	}
	if r.Genuine == nil {
		return missing("genuine")
	}
	return requireString("reason", r.Reason)
}

type GetUserWhitelistApplicationsRequest struct{ UserRequest }

func (*GetUserWhitelistApplicationsRequest) RequestType() string {
	return TypeGetUserWhitelistApplications
}

type GetAllWhitelistApplicationsRequest struct{}

func (*GetAllWhitelistApplicationsRequest) RequestType() string {
	return TypeGetAllWhitelistApplications
}
func (*GetAllWhitelistApplicationsRequest) Validate() error { return nil }

type ProcessWhitelistApplicationRequest struct {
	ApplicationID int64 `json:"application_id"`
	Approved      *bool `json:"approved"`
}

func (*ProcessWhitelistApplicationRequest) RequestType() string {
	return TypeProcessWhitelistApplication
}

func (r *ProcessWhitelistApplicationRequest) Validate() error {
	if r.ApplicationID <= 0 {
		return missing("application_id")
	}
	if r.Approved == nil {
		return missing("approved")
	}
	return nil
}

// Gifts

type GiveGiftRequest struct {
	SenderID   ID     `json:"sender_id"`
	ReceiverID ID     `json:"receiver_id"`
	GiftType   string `json:"gift_type"`
}

func (*GiveGiftRequest) RequestType() string { return TypeGiveGift }
func (r *GiveGiftRequest) Validate() error {
	if err := firstError(
		requireID("sender_id", r.SenderID),
		requireID("receiver_id", r.ReceiverID),
		requireString("gift_type", r.GiftType),
	); err != nil {
		return err
	}
	if r.GiftType != GiftCoin && r.GiftType != GiftStar {
		return &ValidationError{Field: "gift_type", Invalid: true}
	}
	return nil
}

type GetGiftInfoRequest struct{ UserRequest }

func (*GetGiftInfoRequest) RequestType() string { return TypeGetGiftInfo }

// Gift types
const (
	GiftCoin = "coin"
	GiftStar = "star"
)
