// Package gmp implements engine.Client over the Greenbone Management Protocol:
// XML commands and responses exchanged on a TLS connection to the manager.
package gmp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/engine"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ engine.Client = (*Client)(nil)

// Config holds the manager credentials and scan settings.
type Config struct {
	Username string
	Password string
	// Profile is the name of the scan config used for new tasks.
	Profile   string
	AliveTest string
	// ScannerID selects a non-default scanner when set.
	ScannerID string
	// ReportFilter is passed to get_reports; the manager's default filter
	// pages results and hides log-level findings.
	ReportFilter string
	// Timeout bounds dialing and each command round trip.
	Timeout time.Duration
	// InsecureSkipVerify disables certificate verification. Engine images
	// ship self-signed certificates.
	InsecureSkipVerify bool
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		Username:           "admin",
		Password:           "admin",
		Profile:            "Full and very deep",
		AliveTest:          "Consider Alive",
		ReportFilter:       "apply_overrides=0 levels=hmlg rows=-1 min_qod=0",
		Timeout:            60 * time.Second,
		InsecureSkipVerify: true,
	}
}

// CommandError is returned when the manager answers a command with a
// non-2xx status.
type CommandError struct {
	Command    string
	Status     string
	StatusText string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed with status %s: %s", e.Command, e.Status, e.StatusText)
}

// Unwrap allows errors.Is(err, engine.ErrCommandFailed).
func (e *CommandError) Unwrap() error { return engine.ErrCommandFailed }

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client is a GMP client. It holds no connection between calls: every
// operation dials, authenticates, runs its commands and disconnects.
type Client struct {
	cfg  Config
	dial dialFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client dialing managers over TLS.
func NewClient(cfg Config, logger *logger.Logger, tracer trace.Tracer) *Client {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.Timeout},
		Config: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
		},
	}
	return &Client{
		cfg:    cfg,
		dial:   d.DialContext,
		logger: logger.With("component", "gmp_client"),
		tracer: tracer,
	}
}

// Launch creates a target and a task for target and starts the task. Objects
// created before a failing command are removed again.
func (c *Client) Launch(ctx context.Context, ep engine.Endpoint, target string) (engine.Handles, error) {
	ctx, span := c.startSpan(ctx, "gmp_client.launch", ep, attribute.String("target", target))
	defer span.End()

	var h engine.Handles
	err := c.withSession(ctx, ep, func(s *session) error {
		configID, err := s.configID(ctx, c.cfg.Profile)
		if err != nil {
			return err
		}

		name := fmt.Sprintf("%s %s", target, uuid.NewString()[:8])
		var tr createResponse
		if err := s.do(ctx, createTargetCmd{Name: name, Hosts: target, AliveTests: c.cfg.AliveTest}, &tr); err != nil {
			return err
		}

		cmd := createTaskCmd{Name: name, Config: idRef{ID: configID}, Target: idRef{ID: tr.ID}}
		if c.cfg.ScannerID != "" {
			cmd.Scanner = &idRef{ID: c.cfg.ScannerID}
		}
		var tk createResponse
		if err := s.do(ctx, cmd, &tk); err != nil {
			c.cleanup(ctx, s, engine.Handles{TargetID: tr.ID})
			return err
		}

		if err := s.do(ctx, startTask(tk.ID), &genericResponse{}); err != nil {
			c.cleanup(ctx, s, engine.Handles{TaskID: tk.ID, TargetID: tr.ID})
			return err
		}

		h = engine.Handles{TaskID: tk.ID, TargetID: tr.ID}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to launch scan")
		return engine.Handles{}, err
	}

	span.SetAttributes(attribute.String("task_id", h.TaskID), attribute.String("target_id", h.TargetID))
	c.logger.Info(ctx, "Scan launched", "target", target, "task_id", h.TaskID, "endpoint", ep.Address())
	return h, nil
}

// Status maps the manager's task status onto engine.RunStatus.
func (c *Client) Status(ctx context.Context, ep engine.Endpoint, h engine.Handles) (engine.RunStatus, error) {
	ctx, span := c.startSpan(ctx, "gmp_client.status", ep, attribute.String("task_id", h.TaskID))
	defer span.End()

	var raw string
	err := c.withSession(ctx, ep, func(s *session) error {
		var resp getTasksResponse
		if err := s.do(ctx, getTask(h.TaskID, false), &resp); err != nil {
			return err
		}
		for _, t := range resp.Tasks {
			if t.ID == h.TaskID {
				raw = t.Status
				return nil
			}
		}
		return &CommandError{Command: "get_tasks", Status: resp.Code, StatusText: "task " + h.TaskID + " not listed"}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get scan status")
		return "", err
	}

	status := mapStatus(raw)
	span.SetAttributes(attribute.String("engine_status", raw), attribute.String("status", status.String()))
	c.logger.Debug(ctx, "Scan status polled", "task_id", h.TaskID, "engine_status", raw, "status", status)
	return status, nil
}

func mapStatus(raw string) engine.RunStatus {
	switch raw {
	case "New", "Running", "Requested":
		return engine.RunStatusRunning
	case "Done":
		return engine.RunStatusStopped
	default:
		return engine.RunStatusFailed
	}
}

// Report downloads the task's last report and then deletes it on the manager.
func (c *Client) Report(ctx context.Context, ep engine.Endpoint, h engine.Handles) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "gmp_client.report", ep, attribute.String("task_id", h.TaskID))
	defer span.End()

	var raw []byte
	err := c.withSession(ctx, ep, func(s *session) error {
		var tasks getTasksResponse
		if err := s.do(ctx, getTask(h.TaskID, true), &tasks); err != nil {
			return err
		}
		var reportID string
		for _, t := range tasks.Tasks {
			if t.ID == h.TaskID {
				reportID = t.LastReport.Report.ID
			}
		}
		if reportID == "" {
			return &CommandError{Command: "get_tasks", Status: tasks.Code, StatusText: "task " + h.TaskID + " has no report"}
		}

		cmd := getReport(reportID)
		cmd.Filter = c.cfg.ReportFilter
		var rep getReportsResponse
		if err := s.do(ctx, cmd, &rep); err != nil {
			return err
		}
		raw = wrapReport(rep.Inner)

		if err := s.do(ctx, deleteReport(reportID), &genericResponse{}); err != nil {
			c.logger.Warn(ctx, "Failed to delete downloaded report", "report_id", reportID, "error", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download report")
		return nil, err
	}

	span.SetAttributes(attribute.Int("report_bytes", len(raw)))
	c.logger.Info(ctx, "Report downloaded", "task_id", h.TaskID, "bytes", len(raw))
	return raw, nil
}

func wrapReport(inner []byte) []byte {
	const open, closing = "<get_reports_response>", "</get_reports_response>"
	out := make([]byte, 0, len(open)+len(inner)+len(closing))
	out = append(out, open...)
	out = append(out, inner...)
	return append(out, closing...)
}

// Terminate stops a running task.
func (c *Client) Terminate(ctx context.Context, ep engine.Endpoint, h engine.Handles) error {
	ctx, span := c.startSpan(ctx, "gmp_client.terminate", ep, attribute.String("task_id", h.TaskID))
	defer span.End()

	err := c.withSession(ctx, ep, func(s *session) error {
		return s.do(ctx, stopTask(h.TaskID), &genericResponse{})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stop scan")
		return err
	}
	return nil
}

// Delete removes the task and then the target. Both deletions are attempted.
func (c *Client) Delete(ctx context.Context, ep engine.Endpoint, h engine.Handles) error {
	ctx, span := c.startSpan(ctx, "gmp_client.delete", ep, attribute.String("task_id", h.TaskID))
	defer span.End()

	err := c.withSession(ctx, ep, func(s *session) error {
		return s.deleteAll(ctx, h)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete scan")
		return err
	}
	return nil
}

func (c *Client) cleanup(ctx context.Context, s *session, h engine.Handles) {
	if err := s.deleteAll(ctx, h); err != nil {
		c.logger.Warn(ctx, "Failed to clean up after launch failure",
			"task_id", h.TaskID, "target_id", h.TargetID, "error", err)
	}
}

func (c *Client) startSpan(
	ctx context.Context,
	name string,
	ep engine.Endpoint,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("endpoint", ep.Address()))
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (c *Client) withSession(ctx context.Context, ep engine.Endpoint, fn func(*session) error) error {
	conn, err := c.dial(ctx, "tcp", ep.Address())
	if err != nil {
		return fmt.Errorf("dial %s: %w: %w", ep.Address(), engine.ErrServerUnavailable, err)
	}
	defer conn.Close()

	// Unblock in-flight reads and writes when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	s := &session{conn: conn, dec: xml.NewDecoder(conn), timeout: c.cfg.Timeout}

	var auth authenticateCmd
	auth.Credentials.Username = c.cfg.Username
	auth.Credentials.Password = c.cfg.Password
	if err := s.do(ctx, auth, &genericResponse{}); err != nil {
		return err
	}
	return fn(s)
}

// response is implemented by every decoded response through the embedded status.
type response interface {
	result() status
}

func (s status) result() status { return s }

type session struct {
	conn    net.Conn
	dec     *xml.Decoder
	timeout time.Duration
}

func (s *session) do(ctx context.Context, cmd any, resp response) error {
	payload, err := xml.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	name := commandName(payload)

	if s.timeout > 0 {
		deadline := time.Now().Add(s.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = s.conn.SetDeadline(deadline)
	}

	if _, err := s.conn.Write(payload); err != nil {
		return fmt.Errorf("send %s: %w: %w", name, engine.ErrServerUnavailable, err)
	}
	if err := s.dec.Decode(resp); err != nil {
		return fmt.Errorf("read %s response: %w: %w", name, engine.ErrServerUnavailable, err)
	}
	if st := resp.result(); !st.ok() {
		return &CommandError{Command: name, Status: st.Code, StatusText: st.Text}
	}
	return nil
}

func (s *session) configID(ctx context.Context, profile string) (string, error) {
	var resp getConfigsResponse
	if err := s.do(ctx, getConfigsCmd{}, &resp); err != nil {
		return "", err
	}
	for _, cfg := range resp.Configs {
		if cfg.Name == profile {
			return cfg.ID, nil
		}
	}
	return "", &CommandError{Command: "get_configs", Status: resp.Code, StatusText: "no scan config named " + profile}
}

func (s *session) deleteAll(ctx context.Context, h engine.Handles) error {
	var errs []error
	if h.TaskID != "" {
		errs = append(errs, s.do(ctx, deleteTask(h.TaskID), &genericResponse{}))
	}
	if h.TargetID != "" {
		errs = append(errs, s.do(ctx, deleteTargetCmd{TargetID: h.TargetID, Ultimate: "1"}, &genericResponse{}))
	}
	return errors.Join(errs...)
}

// commandName extracts the root element name of an encoded command.
func commandName(payload []byte) string {
	for i := 1; i < len(payload); i++ {
		if c := payload[i]; c == ' ' || c == '>' || c == '/' {
			return string(payload[1:i])
		}
	}
	return "command"
}
