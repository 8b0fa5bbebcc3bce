// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package supabase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Upload stores an object. Existing objects are not overwritten.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error {
	if c.serviceKey == "" {
		return ErrServiceKeyRequired
	}
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + escapePath(bucket) + "/" + escapePath(path),
		apiKey:      c.serviceKey,
		contentType: contentType,
		body:        body,
		header:      map[string]string{"x-upsert": "false"},
	})
	return err
}

// CreateSignedURL returns a time-limited download URL for an object.
func (c *Client) CreateSignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, error) {
	if c.serviceKey == "" {
		return "", ErrServiceKeyRequired
	}
	body, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/storage/v1/object/sign/" + escapePath(bucket) + "/" + escapePath(path),
		apiKey:   c.serviceKey,
		jsonBody: map[string]any{"expiresIn": int(expiresIn.Seconds())},
	})
	if err != nil {
		return "", err
	}

	signed := gjson.GetBytes(body, "signedURL").String()
	if signed == "" {
		return "", errors.New("supabase returned no signed URL")
	}
	return c.url + "/storage/v1" + signed, nil
}

// Remove deletes objects from a bucket. Missing objects are ignored by Supabase.
func (c *Client) Remove(ctx context.Context, bucket string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if c.serviceKey == "" {
		return ErrServiceKeyRequired
	}
	_, err := c.do(ctx, request{
		method:   http.MethodDelete,
		path:     "/storage/v1/object/" + escapePath(bucket),
		apiKey:   c.serviceKey,
		jsonBody: map[string]any{"prefixes": paths},
	})
	return err
}
