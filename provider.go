package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderClient talks to the print provider's REST API: image uploads and
// order submission.
type ProviderClient struct {
	baseURL string
	token   string
	shopID  string
	http    *http.Client
}

// NewProviderClient creates a client for the API rooted at baseURL.
func NewProviderClient(baseURL, token, shopID string, timeout time.Duration) *ProviderClient {
	return &ProviderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		shopID:  shopID,
		http:    &http.Client{Timeout: timeout},
	}
}

// UploadImage stores a rendered puzzle. contents is a data URI or bare
// base64 PNG.
func (c *ProviderClient) UploadImage(ctx context.Context, fileName, contents string) (*Upload, error) {
	if _, b64, ok := strings.Cut(contents, ";base64,"); ok {
		contents = b64
	}
	req := map[string]string{"file_name": fileName, "contents": contents}
	var resp struct {
		ID         string `json:"id"`
		PreviewURL string `json:"preview_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/uploads/images.json", req, &resp); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.ID == "" {
		return nil, errors.New("upload image: provider returned no id")
	}
	return &Upload{ID: resp.ID, PreviewURL: resp.PreviewURL, UploadedAt: time.Now().UTC()}, nil
}

type providerLineItem struct {
	BlueprintID     int               `json:"blueprint_id"`
	PrintProviderID int               `json:"print_provider_id"`
	VariantID       int               `json:"variant_id"`
	Quantity        int               `json:"quantity"`
	PrintAreas      map[string]string `json:"print_areas"`
}

type providerOrderRequest struct {
	ExternalID string             `json:"external_id"`
	Label      string             `json:"label"`
	LineItems  []providerLineItem `json:"line_items"`
	AddressTo  map[string]string  `json:"address_to,omitempty"`
}

// SubmitOrder places an order for the uploaded image and returns the
// provider's order ID.
func (c *ProviderClient) SubmitOrder(ctx context.Context, o *Order, v Variant, up *Upload) (string, error) {
	req := providerOrderRequest{
		ExternalID: o.ID,
		Label:      o.StorefrontOrderID,
		LineItems: []providerLineItem{{
			BlueprintID:     v.BlueprintID,
			PrintProviderID: v.PrintProviderID,
			VariantID:       v.ProviderVariantID,
			Quantity:        o.Quantity,
			PrintAreas:      map[string]string{v.PrintArea: up.ID},
		}},
	}
	if o.Email != "" {
		req.AddressTo = map[string]string{"email": o.Email}
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/shops/"+c.shopID+"/orders.json", req, &resp); err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("submit order: provider returned no id")
	}
	return resp.ID, nil
}

func (c *ProviderClient) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
