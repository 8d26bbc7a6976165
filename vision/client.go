package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// httpClient implements Analyzer against the Gemini v1beta REST surface:
// files are staged through the File API, analyses run through
// models/<model>:generateContent, and staged files are deleted afterwards.
type httpClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	poll     time.Duration
	cfg      Config
}

func newHTTPClient(cfg Config) *httpClient {
	return &httpClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		poll:     2 * time.Second,
		cfg:      cfg,
	}
}

// fileResource is the File API's representation of an uploaded file.
type fileResource struct {
	File struct {
		Name     string `json:"name"`
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType"`
		State    string `json:"state"`
	} `json:"file"`
}

func (c *httpClient) Upload(ctx context.Context, path, contentType string) (FileRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileRef{}, fmt.Errorf("vision: open %s: %w", path, err)
	}
	defer f.Close()

	url := c.endpoint + "/upload/v1beta/files?key=" + c.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return FileRef{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := c.client.Do(req)
	if err != nil {
		return FileRef{}, fmt.Errorf("vision: upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return FileRef{}, fmt.Errorf("vision: upload %s: %w", path, err)
	}

	var fr fileResource
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return FileRef{}, fmt.Errorf("vision: decode upload response: %w", err)
	}
	if fr.File.URI == "" {
		return FileRef{}, fmt.Errorf("vision: upload returned no file URI")
	}
	mime := fr.File.MIMEType
	if mime == "" {
		mime = contentType
	}
	ref := FileRef{Name: fr.File.Name, URI: fr.File.URI, MIMEType: mime}
	if err := c.awaitActive(ctx, ref.Name, fr.File.State); err != nil {
		return FileRef{}, fmt.Errorf("vision: upload %s: %w", path, err)
	}
	return ref, nil
}

// awaitActive waits for a staged file to leave the PROCESSING state. Videos
// are transcoded server-side after upload; a file submitted to
// generateContent before it turns ACTIVE fails the whole batch.
func (c *httpClient) awaitActive(ctx context.Context, name, state string) error {
	for {
		switch state {
		case "FAILED":
			return fmt.Errorf("file %s failed backend processing", name)
		case "PROCESSING":
		default:
			// ACTIVE, or a backend that omits state entirely.
			return nil
		}

		t := time.NewTimer(c.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.endpoint, name, c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("poll %s: %w", name, err)
		}
		if err := c.checkStatus(resp); err != nil {
			resp.Body.Close()
			return fmt.Errorf("poll %s: %w", name, err)
		}
		var st struct {
			State string `json:"state"`
		}
		err = json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("poll %s: decode: %w", name, err)
		}
		state = st.State
	}
}

// generateRequest is the JSON body sent to models/<model>:generateContent.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	FileURI  string `json:"fileUri"`
	MIMEType string `json:"mimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *httpClient) AnalyzeBatch(ctx context.Context, refs []FileRef, instruction string, contexts []ItemContext) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if len(contexts) != len(refs) {
		return nil, fmt.Errorf("vision: %d refs but %d contexts", len(refs), len(contexts))
	}

	parts := make([]part, 0, len(refs)+1)
	parts = append(parts, part{Text: batchPrompt(instruction, contexts)})
	for _, r := range refs {
		parts = append(parts, part{FileData: &fileData{FileURI: r.URI, MIMEType: r.MIMEType}})
	}

	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: parts}}})
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision: generate: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, fmt.Errorf("vision: generate: %w", err)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("vision: decode generate response: %w", err)
	}
	text := responseText(gr)
	if text == "" {
		return nil, fmt.Errorf("vision: backend returned empty response")
	}

	out := Demux(text, len(refs))
	for i, s := range out {
		if s == "" {
			c.cfg.Logger.Warn("missing analysis section in batch response",
				"item", i+1, "batch_size", len(refs))
		}
	}
	return out, nil
}

func (c *httpClient) Release(ctx context.Context, ref FileRef) error {
	if ref.Name == "" {
		return nil
	}
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.endpoint, ref.Name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vision: delete %s: %w", ref.Name, err)
	}
	defer resp.Body.Close()

	// An already-deleted file is not an error.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := c.checkStatus(resp); err != nil {
		return fmt.Errorf("vision: delete %s: %w", ref.Name, err)
	}
	return nil
}

func (c *httpClient) Model() string { return c.model }

// checkStatus maps backend HTTP failures onto the package error taxonomy.
func (c *httpClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry := 30 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				retry = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retry}
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(detail), "quota"):
		return &QuotaError{Detail: detail}
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail)
}

func responseText(gr generateResponse) string {
	var sb strings.Builder
	for _, cand := range gr.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// batchPrompt wraps the per-item instruction into a combined prompt that
// asks the model to label each answer "ITEM n:", which Demux later splits
// on. Per-item brand and ad metadata is listed so the model can tell the
// attachments apart.
func batchPrompt(instruction string, contexts []ItemContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the following %d ad creatives. For each one, provide analysis following this format:\n\n", len(contexts))
	sb.WriteString(instruction)
	sb.WriteString("\n\nPlease analyze each item separately and clearly label each analysis as \"ITEM 1:\", \"ITEM 2:\", etc.\n\n")
	for i, c := range contexts {
		fmt.Fprintf(&sb, "ITEM %d", i+1)
		if c.BrandName != "" {
			fmt.Fprintf(&sb, " (Brand: %s)", c.BrandName)
		}
		if c.AdID != "" {
			fmt.Fprintf(&sb, " (Ad ID: %s)", c.AdID)
		}
		sb.WriteString(":\n")
	}
	return sb.String()
}

// Demux splits one combined response into n per-item sections by the
// "ITEM n:" markers. A section the model skipped comes back as ""; its
// siblings are unaffected.
func Demux(text string, n int) []string {
	out := make([]string, n)
	for i := 1; i <= n; i++ {
		marker := fmt.Sprintf("ITEM %d:", i)
		start := strings.Index(text, marker)
		if start == -1 {
			continue
		}
		start += len(marker)
		section := text[start:]
		if i < n {
			if end := strings.Index(section, fmt.Sprintf("ITEM %d:", i+1)); end != -1 {
				section = section[:end]
			}
		}
		out[i-1] = strings.TrimSpace(section)
	}
	return out
}
