// Package mmseqs talks to an MMseqs2 API server: submit a ticket, poll it,
// download the result archive and split it back into per-query alignments.
package mmseqs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ernst-schmid/foldpipe/logger"
	"github.com/ernst-schmid/foldpipe/pkg/search"
	"github.com/ernst-schmid/foldpipe/pkg/seqid"
)

// DefaultHostURL is the public search endpoint.
const DefaultHostURL = "https://api.colabfold.com"

type Client struct {
	HostURL      string
	UserAgent    string
	PollInterval time.Duration
	HTTP         *http.Client

	// TemplateDir is where downloaded template hit archives are unpacked.
	// Empty means the system temp directory.
	TemplateDir string
}

func NewClient(hostURL string) *Client {
	if hostURL == "" {
		hostURL = DefaultHostURL
	}
	return &Client{
		HostURL:      hostURL,
		PollInterval: 5 * time.Second,
		HTTP: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: &loggingTransport{base: http.DefaultTransport},
		},
	}
}

// loggingTransport logs each API call and its duration.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		logger.Debug("Request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.EscapedPath()),
			zap.Duration("duration", duration),
		)
		return nil, err
	}
	logger.Debug("Request completed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.EscapedPath()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	// Log slow requests
	if duration > 30*time.Second {
		logger.Warn("Slow request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.EscapedPath()),
			zap.Duration("duration", duration),
		)
	}
	return resp, err
}

type ticket struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Search submits the sequences, waits for the ticket to complete and
// splits the result archive into one alignment text per query.
func (c *Client) Search(ctx context.Context, sequences []string, opts search.Options) (*search.Response, error) {
	host := opts.HostURL
	if host == "" {
		host = c.HostURL
	}

	var query strings.Builder
	for i, seq := range sequences {
		fmt.Fprintf(&query, ">%d\n%s\n", 101+i, seq)
	}

	endpoint := "/ticket/msa"
	mode := "all"
	switch {
	case opts.UsePairing:
		endpoint = "/ticket/pair"
		mode = ""
	case opts.UseEnv:
		mode = "env"
	}

	tk, err := c.submit(ctx, host, endpoint, query.String(), mode)
	if err != nil {
		return nil, err
	}
	if err := c.waitForTicket(ctx, host, tk); err != nil {
		return nil, err
	}
	archive, err := c.download(ctx, host, tk.ID)
	if err != nil {
		return nil, err
	}
	files, err := unpackArchive(archive)
	if err != nil {
		return nil, err
	}
	lines, err := splitAlignments(files, len(sequences), opts)
	if err != nil {
		return nil, err
	}

	resp := &search.Response{
		A3MLines:      lines,
		TemplatePaths: make([]string, len(sequences)),
	}
	if opts.UseTemplates && !opts.UsePairing {
		if err := c.resolveTemplates(ctx, host, sequences, files, resp.TemplatePaths); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Client) submit(ctx context.Context, host, endpoint, query, mode string) (*ticket, error) {
	form := url.Values{"q": {query}}
	if mode != "" {
		form.Set("mode", mode)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("submit search: server returned %s", resp.Status)
	}

	var tk ticket
	if err := json.NewDecoder(resp.Body).Decode(&tk); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if tk.Status == "ERROR" || tk.Status == "MAINTENANCE" {
		return nil, fmt.Errorf("search service rejected the job: %s", tk.Status)
	}
	return &tk, nil
}

func (c *Client) waitForTicket(ctx context.Context, host string, tk *ticket) error {
	for tk.Status != "COMPLETE" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/ticket/"+tk.ID, nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("poll ticket %s: %w", tk.ID, err)
		}
		err = json.NewDecoder(resp.Body).Decode(tk)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode ticket %s: %w", tk.ID, err)
		}

		switch tk.Status {
		case "ERROR":
			return fmt.Errorf("search job %s failed on the server", tk.ID)
		case "RATELIMIT":
			logger.Warn(fmt.Sprintf("search job %s rate limited, still waiting", tk.ID))
		}
	}
	return nil
}

func (c *Client) download(ctx context.Context, host, id string) ([]byte, error) {
	payload, err := c.get(ctx, host+"/result/download/"+id)
	if err != nil {
		return nil, fmt.Errorf("download result %s: %w", id, err)
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// archive file names, per database
const (
	fileUniRef       = "uniref.a3m"
	fileEnv          = "bfd.mgnify30.metaeuk30.smag30.a3m"
	filePaired       = "pair.a3m"
	fileTemplateHits = "pdb70.m8"
)

// maxTemplateHits bounds how many structural hits are downloaded per query.
const maxTemplateHits = 20

// unpackArchive reads the tar.gz result into a name-to-payload map.
func unpackArchive(archive []byte) (map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("open result archive: %w", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read result archive: %w", err)
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s from result archive: %w", hdr.Name, err)
		}
		files[hdr.Name] = payload
	}
	return files, nil
}

// splitAlignments splits each alignment file into its per-query blocks.
// The server separates blocks with NUL bytes, one per submitted query, in
// submission order.
func splitAlignments(files map[string][]byte, numQueries int, opts search.Options) ([]string, error) {
	wanted := []string{fileUniRef}
	if opts.UsePairing {
		wanted = []string{filePaired}
	} else if opts.UseEnv {
		wanted = append(wanted, fileEnv)
	}

	lines := make([]string, numQueries)
	for _, name := range wanted {
		payload, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("result archive is missing %s", name)
		}
		blocks := splitBlocks(payload)
		if len(blocks) != numQueries {
			return nil, fmt.Errorf("%s holds %d blocks for %d queries", name, len(blocks), numQueries)
		}
		for i, block := range blocks {
			lines[i] += block
		}
	}
	return lines, nil
}

// resolveTemplates reads the structural hit table from the result archive,
// downloads the top hits per query and records the unpacked directory in
// paths. A query without hits keeps an empty path, which downstream turns
// into the mock template.
func (c *Client) resolveTemplates(ctx context.Context, host string, sequences []string, files map[string][]byte, paths []string) error {
	table, ok := files[fileTemplateHits]
	if !ok {
		return fmt.Errorf("result archive is missing %s", fileTemplateHits)
	}
	hits, err := parseTemplateHits(table, len(sequences))
	if err != nil {
		return err
	}
	for i, list := range hits {
		if len(list) == 0 {
			logger.Info(fmt.Sprintf("no structural hits for query %d", 101+i))
			continue
		}
		dir, err := c.fetchTemplateArchive(ctx, host, sequences[i], list)
		if err != nil {
			return err
		}
		paths[i] = dir
	}
	return nil
}

// parseTemplateHits groups the m8 hit table by query index. The first
// column is the submitted query id, the second the hit identifier.
func parseTemplateHits(table []byte, numQueries int) ([][]string, error) {
	hits := make([][]string, numQueries)
	for _, line := range strings.Split(string(table), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("bad query id %q in %s", fields[0], fileTemplateHits)
		}
		i := id - 101
		if i < 0 || i >= numQueries {
			return nil, fmt.Errorf("%s lists a hit for unknown query %d", fileTemplateHits, id)
		}
		if len(hits[i]) < maxTemplateHits {
			hits[i] = append(hits[i], fields[1])
		}
	}
	return hits, nil
}

// fetchTemplateArchive downloads the named hits into a per-sequence
// directory. An already populated directory is reused as is.
func (c *Client) fetchTemplateArchive(ctx context.Context, host, sequence string, hits []string) (string, error) {
	base := c.TemplateDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "templates_"+seqid.ID(sequence))
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}

	archive, err := c.get(ctx, host+"/template/"+strings.Join(hits, ","))
	if err != nil {
		return "", fmt.Errorf("download templates: %w", err)
	}
	if err := extractArchive(archive, dir); err != nil {
		return "", fmt.Errorf("unpack templates: %w", err)
	}
	return dir, nil
}

// extractArchive unpacks a tar.gz onto disk, flattening entry names into dir.
func extractArchive(archive []byte, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(hdr.Name)), payload, 0o644); err != nil {
			return err
		}
	}
}

func splitBlocks(payload []byte) []string {
	var blocks []string
	for _, raw := range bytes.Split(payload, []byte{0}) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		block := string(raw)
		if !strings.HasSuffix(block, "\n") {
			block += "\n"
		}
		blocks = append(blocks, block)
	}
	return blocks
}
