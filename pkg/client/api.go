package client

import (
	"context"

	"github.com/aeolun/craftlink/pkg/protocol"
)

// Login authenticates and binds this connection to the user
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.LoginResponse, error) {
	var resp protocol.LoginResponse
	err := c.Call(ctx, &protocol.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout releases the identity bound to this connection. The connection
// stays open.
func (c *Client) Logout(ctx context.Context) error {
	return c.Call(ctx, protocol.NewLogoutRequest(), nil)
}

// Register creates an account
func (c *Client) Register(ctx context.Context, req protocol.RegisterRequest) error {
	return c.Call(ctx, &req, nil)
}

func (c *Client) SendMessage(ctx context.Context, sender, receiver protocol.ID, content string) error {
	return c.Call(ctx, &protocol.SendMessageRequest{SenderID: sender, ReceiverID: receiver, Content: content}, nil)
}

// Messages returns the conversation between user and contact, oldest first
func (c *Client) Messages(ctx context.Context, user, contact protocol.ID) ([]protocol.ChatMessage, error) {
	var resp protocol.MessagesResponse
	req := &protocol.GetMessagesRequest{PairRequest: protocol.PairRequest{UserID: user, ContactID: contact}}
	if err := c.Call(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Unread(ctx context.Context, user protocol.ID) (*protocol.UnreadResponse, error) {
	var resp protocol.UnreadResponse
	req := &protocol.GetUnreadMessagesRequest{UserRequest: protocol.UserRequest{UserID: user}}
	if err := c.Call(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks contact's messages to user as read and returns the
// remaining unread summary
func (c *Client) MarkRead(ctx context.Context, user, contact protocol.ID) (*protocol.UnreadResponse, error) {
	var resp protocol.UnreadResponse
	req := &protocol.MarkMessagesAsReadRequest{PairRequest: protocol.PairRequest{UserID: user, ContactID: contact}}
	if err := c.Call(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Contacts(ctx context.Context, user protocol.ID) (*protocol.ContactsResponse, error) {
	var resp protocol.ContactsResponse
	req := &protocol.GetContactsRequest{UserRequest: protocol.UserRequest{UserID: user}}
	if err := c.Call(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AddContact(ctx context.Context, user, contact protocol.ID, remark string) (*protocol.User, error) {
	var resp protocol.AddContactResponse
	req := &protocol.AddContactRequest{PairRequest: protocol.PairRequest{UserID: user, ContactID: contact}, Remark: remark}
	if err := c.Call(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Contact, nil
}

// Sign claims the daily sign-in reward
func (c *Client) Sign(ctx context.Context, user protocol.ID) (protocol.SignReward, error) {
	var resp protocol.SignResponse
	req := &protocol.SignRequest{UserRequest: protocol.UserRequest{UserID: user}}
	if err := c.Call(ctx, req, &resp); err != nil {
		return protocol.SignReward{}, err
	}
	return resp.Reward, nil
}

func (c *Client) UsersCount(ctx context.Context) (int, error) {
	var resp protocol.CountResponse
	if err := c.Call(ctx, &protocol.GetUsersCountRequest{}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}
