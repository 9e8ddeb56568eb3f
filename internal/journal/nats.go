package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions describe where to mirror entries in NATS JetStream.
type NATSOptions struct {
	URL        string
	User       string
	Password   string
	Prefix     string
	Stream     string
	MaxBytes   int64
	DupeWindow time.Duration
}

func (o *NATSOptions) setDefaults() {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.Prefix == "" {
		o.Prefix = "mshell"
	}
	if o.Stream == "" {
		o.Stream = "MSHELL_JOURNAL"
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 1024 * 1024 * 1024 // 1GB
	}
	if o.DupeWindow == 0 {
		o.DupeWindow = 2 * time.Minute
	}
}

// NATS publishes entries to <prefix>.<session>.<origin>.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	opts   NATSOptions
	logger *slog.Logger
}

// DialNATS connects and makes sure the journal stream exists.
func DialNATS(_ context.Context, opts NATSOptions, logger *slog.Logger) (*NATS, error) {
	opts.setDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	natsOpts := []nats.Option{nats.Name("mshell")}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}
	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := &NATS{conn: conn, js: js, opts: opts, logger: logger}
	if err := m.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *NATS) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       m.opts.Stream,
		Subjects:   []string{m.wildcard()},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   m.opts.MaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: m.opts.DupeWindow,
	}
	if _, err := m.js.StreamInfo(cfg.Name); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := m.js.AddStream(cfg)
			return addErr
		}
		return err
	}
	_, err := m.js.UpdateStream(cfg)
	return err
}

func (m *NATS) Record(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = m.js.Publish(m.subject(e), payload, nats.MsgId("entry:"+e.ID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish journal entry: %w", err)
	}
	return nil
}

func (m *NATS) Close() {
	if m.conn != nil {
		_ = m.conn.Drain()
		m.conn.Close()
	}
}

func (m *NATS) subject(e Entry) string {
	return subjectFor(m.opts.Prefix, e)
}

func (m *NATS) wildcard() string {
	return fmt.Sprintf("%s.*.*", m.opts.Prefix)
}

func subjectFor(prefix string, e Entry) string {
	return fmt.Sprintf("%s.%s.%s", prefix, token(e.Session), token(e.Origin))
}
