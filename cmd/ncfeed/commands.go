package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	feed "github.com/planetarium/ncfeed/pkg"
)

/*
	These commands are convenience CLI tools that operate on a
	running feed by calling the admin REST API.
*/

type SubCommandArgs struct {
	RemoteAdminServer string
}

// Notify broadcasts n to every notification subscriber.
func Notify(c feed.Config, s SubCommandArgs, n feed.Notification) error {
	url, err := adminAPIURL(c, s, "/admin/notify")
	if err != nil {
		return err
	}
	fmt.Println("Calling", url)
	return postURL(url, n)
}

// ShowRegistry prints the registered agents and their subscriber counts.
func ShowRegistry(c feed.Config, s SubCommandArgs) error {
	url, err := adminAPIURL(c, s, "/admin/registry")
	if err != nil {
		return err
	}
	body, err := getURL(url)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	out.WriteTo(os.Stdout)
	fmt.Println()
	return nil
}

// work out the remote admin URL from args or config and return
// a complete path with our best guess
func adminAPIURL(c feed.Config, s SubCommandArgs, path string) (string, error) {
	base := ""
	if s.RemoteAdminServer != "" {
		base = s.RemoteAdminServer
	} else {
		host := c.WebAPI.AdminBind
		if host == "" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%s/", host, c.WebAPI.AdminPort)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	p, err := url.Parse(path)
	if err != nil {
		return "", err
	}

	return u.ResolveReference(p).String(), nil
}

// post a command to a remote admin API
func postURL(url string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to serialize request body: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func getURL(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
