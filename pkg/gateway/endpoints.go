package gateway

import (
	"fmt"
	"net/url"
)

// Endpoint paths of the remote platform's private web API.
const (
	loginPath       = "/accounts/login/ajax/"
	currentUserPath = "/api/v1/accounts/current_user/"
	webProfilePath  = "/api/v1/users/web_profile_info/"
	usernameLookup  = "/api/v1/users/%s/usernameinfo/"
	storiesPath     = "/api/v1/feed/reels_media/"
	userFeedPath    = "/api/v1/feed/user/%s/"
)

func (c *Client) loginURL() string {
	return c.baseURL + loginPath
}

func (c *Client) currentUserURL() string {
	return c.baseURL + currentUserPath
}

func (c *Client) webProfileURL(handle string) string {
	return fmt.Sprintf("%s%s?username=%s", c.baseURL, webProfilePath, url.QueryEscape(handle))
}

func (c *Client) usernameLookupURL(handle string) string {
	return c.baseURL + fmt.Sprintf(usernameLookup, url.PathEscape(handle))
}

func (c *Client) storiesURL(profileID string) string {
	return fmt.Sprintf("%s%s?reel_ids=%s", c.baseURL, storiesPath, url.QueryEscape(profileID))
}

func (c *Client) userFeedURL(profileID string, limit int) string {
	return fmt.Sprintf("%s%s?count=%d", c.baseURL, fmt.Sprintf(userFeedPath, url.PathEscape(profileID)), limit)
}
