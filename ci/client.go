package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// The master lists itself among its computers; it is never a worker.
const masterDisplayName = "master"

// Every registered worker runs this many concurrent builds.
const executorsPerWorker = 10

// Config carries the master endpoint, the basic-auth credentials sent on
// every call, and the fixed operational parameters of new workers.
type Config struct {
	URL      string
	Username string
	Password string

	// Parameters applied to every node this system registers.
	RemoteFS       string
	CredentialsID  string
	PrivateKeyPath string
}

// Client is the CI State Accessor. The worker list is cached until
// RefreshWorkers; everything else hits the master directly. Network and
// parse failures are fatal for the cycle, retries belong to the
// reconciliation cadence.
type Client struct {
	config Config
	http   *http.Client
	log    *slog.Logger

	workers []Worker // nil until first fetch
}

func NewClient(config Config, log *slog.Logger) *Client {
	return &Client{
		config: config,
		http:   http.DefaultClient,
		log:    log,
	}
}

type computerList struct {
	Computer []struct {
		DisplayName string `json:"displayName"`
		Idle        bool   `json:"idle"`
	} `json:"computer"`
}

// Workers returns the registered worker list, excluding the master's own
// entry, fetching it on first use.
func (c *Client) Workers(ctx context.Context) ([]Worker, error) {
	if c.workers != nil {
		return c.workers, nil
	}
	return c.RefreshWorkers(ctx)
}

// RefreshWorkers discards the cached list and fetches a fresh one. An
// empty or unparsable response is a hard error.
func (c *Client) RefreshWorkers(ctx context.Context) ([]Worker, error) {
	body, err := c.get(ctx, "/computer/api/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch worker list: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("CI master returned an empty worker list response")
	}

	var list computerList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse worker list: %w", err)
	}
	if len(list.Computer) == 0 {
		return nil, fmt.Errorf("CI master reported no computers at all, not even itself")
	}

	c.workers = []Worker{}
	for _, computer := range list.Computer {
		if computer.DisplayName == masterDisplayName {
			continue
		}
		c.workers = append(c.workers, Worker{Name: computer.DisplayName, Idle: computer.Idle})
	}
	return c.workers, nil
}

// WorkerByIP scans the cached worker list for the worker at ip.
func (c *Client) WorkerByIP(ctx context.Context, ip string) (Worker, bool, error) {
	workers, err := c.Workers(ctx)
	if err != nil {
		return Worker{}, false, err
	}
	for _, worker := range workers {
		workerIP, err := worker.IP()
		if err != nil {
			return Worker{}, false, err
		}
		if workerIP == ip {
			return worker, true, nil
		}
	}
	return Worker{}, false, nil
}

// IdleWorkers returns the cached workers currently running no build, in
// the order the master lists them.
func (c *Client) IdleWorkers(ctx context.Context) ([]Worker, error) {
	workers, err := c.Workers(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(workers, func(w Worker, _ int) bool { return w.Idle }), nil
}

// RegisterWorker creates a static CI node named after the instance's IP.
// The master starts routing jobs to it once the node reports ready on its
// own side; that readiness is outside this system's control.
func (c *Client) RegisterWorker(ctx context.Context, ip string) error {
	name := WorkerName(ip)

	nodeJSON, err := json.Marshal(map[string]any{
		"name":            name,
		"nodeDescription": "bosun-managed build worker",
		"numExecutors":    strconv.Itoa(executorsPerWorker),
		"remoteFS":        c.config.RemoteFS,
		"labelString":     "",
		"mode":            "NORMAL",
		"type":            "hudson.slaves.DumbSlave",
		"retentionStrategy": map[string]any{
			"stapler-class": "hudson.slaves.RetentionStrategy$Always",
		},
		"launcher": map[string]any{
			"stapler-class": "hudson.plugins.sshslaves.SSHLauncher",
			"host":          ip,
			"port":          22,
			"credentialsId": c.config.CredentialsID,
			"privatekey":    c.config.PrivateKeyPath,
		},
		"nodeProperties": map[string]any{
			"stapler-class-bag": "true",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode node definition for '%s': %w", name, err)
	}

	form := url.Values{
		"name": {name},
		"type": {"hudson.slaves.DumbSlave"},
		"json": {string(nodeJSON)},
	}
	if err := c.post(ctx, "/computer/doCreateItem", form); err != nil {
		return fmt.Errorf("failed to register worker '%s': %w", name, err)
	}

	c.log.Info("Registered worker", "worker", name)
	return nil
}

// DeregisterWorker deletes the CI node by name.
func (c *Client) DeregisterWorker(ctx context.Context, name string) error {
	if err := c.post(ctx, fmt.Sprintf("/computer/%s/doDelete", url.PathEscape(name)), nil); err != nil {
		return fmt.Errorf("failed to deregister worker '%s': %w", name, err)
	}

	c.log.Info("Deregistered worker", "worker", name)
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.config.Username, c.config.Password)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("CI master answered %s on %s", res.Status, req.URL.Path)
	}
	return body, nil
}
