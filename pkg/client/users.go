package client

import (
	"context"
	"net/http"
)

// UsersAPI is the admin user-management slice of the SDK.
type UsersAPI struct {
	c *Client
}

func (c *Client) Users() *UsersAPI { return &UsersAPI{c: c} }

func (u *UsersAPI) GetUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := u.c.do(ctx, http.MethodGet, "/api/labhub/users", nil, &out)
	return out, err
}

type createUserRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (u *UsersAPI) CreateUser(ctx context.Context, userName, email, password, role string) (*User, error) {
	var out User
	err := u.c.do(ctx, http.MethodPost, "/api/labhub/users",
		createUserRequest{UserName: userName, Email: email, Password: password, Role: role}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *UsersAPI) DeleteUser(ctx context.Context, userID string) error {
	return u.c.do(ctx, http.MethodDelete, "/api/labhub/users/"+userID, nil, nil)
}

type authorizedResources struct {
	ResourceIDs []string `json:"resource_ids"`
}

// GetAuthorizedResources returns the resource ids a user may access.
func (u *UsersAPI) GetAuthorizedResources(ctx context.Context, userID string) ([]string, error) {
	var out authorizedResources
	err := u.c.do(ctx, http.MethodGet, "/api/labhub/users/"+userID+"/authorized-resources", nil, &out)
	return out.ResourceIDs, err
}

// SetAuthorizedResources replaces a user's grant set.
func (u *UsersAPI) SetAuthorizedResources(ctx context.Context, userID string, resourceIDs []string) ([]string, error) {
	var out authorizedResources
	err := u.c.do(ctx, http.MethodPut, "/api/labhub/users/"+userID+"/authorized-resources",
		authorizedResources{ResourceIDs: resourceIDs}, &out)
	return out.ResourceIDs, err
}
