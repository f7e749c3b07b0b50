package imessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/smsvault/internal/backup"
	"github.com/wesm/smsvault/internal/export"
	"github.com/wesm/smsvault/internal/fileutil"
)

// Workspace subdirectories, which become the top-level archive entries.
const (
	AttachmentsDir = "attachments"
	ChatsDir       = "chats"
)

// Exporter turns an iPhone backup into a message archive.
type Exporter struct {
	formats    export.Formats
	progress   ExportProgress
	logger     *slog.Logger
	openSource func(backup.Layout) (RowSource, error)
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithLogger sets the logger for the exporter.
func WithLogger(logger *slog.Logger) ExporterOption {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// WithProgress sets the progress callbacks.
func WithProgress(p ExportProgress) ExporterOption {
	return func(e *Exporter) {
		if p != nil {
			e.progress = p
		}
	}
}

// WithFormats replaces the extension → archive format table.
func WithFormats(f export.Formats) ExporterOption {
	return func(e *Exporter) {
		e.formats = f
	}
}

// WithSource replaces how rows are read from a backup. The default opens
// the backup's SQLite databases.
func WithSource(open func(backup.Layout) (RowSource, error)) ExporterOption {
	return func(e *Exporter) {
		e.openSource = open
	}
}

func openSQLiteSource(l backup.Layout) (RowSource, error) {
	return OpenSource(l)
}

// NewExporter creates a new Exporter.
func NewExporter(opts ...ExporterOption) *Exporter {
	e := &Exporter{
		formats:    export.DefaultFormats(),
		progress:   NullProgress{},
		logger:     slog.Default(),
		openSource: openSQLiteSource,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export reads the backup at opts.BackupDir and writes the archive
// opts.Output. Items that fail individually (a missing attachment, a chat
// that cannot be written) are reported through OnError and counted in the
// summary; the archive is still produced. Fatal failures return a nil
// summary. The staging workspace is removed on every return path.
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*ExportSummary, error) {
	startTime := time.Now()

	if opts.Region == "" {
		opts.Region = DefaultRegion
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}

	format, err := e.formats.ForPath(opts.Output)
	if err != nil {
		return nil, err
	}

	workspace, err := os.MkdirTemp(opts.TempDir, "smsvault-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			e.logger.Debug("remove workspace", "path", workspace, "error", err)
		}
	}()

	r := &exportRun{
		opts:      opts,
		layout:    backup.NewLayout(opts.BackupDir),
		workspace: workspace,
		logger:    e.logger,
		progress:  &syncProgress{p: e.progress},
		open:      e.openSource,
		summary:   &ExportSummary{Output: opts.Output, Format: format},
	}
	r.progress.OnStart()
	if err := r.run(ctx, format); err != nil {
		return nil, err
	}
	r.summary.Duration = time.Since(startTime)
	r.progress.OnComplete(r.summary)
	return r.summary, nil
}

// exportRun holds the state of one Export call.
type exportRun struct {
	opts      ExportOptions
	layout    backup.Layout
	workspace string
	logger    *slog.Logger
	progress  ExportProgress
	open      func(backup.Layout) (RowSource, error)

	mu      sync.Mutex // guards summary
	summary *ExportSummary
}

func (r *exportRun) run(ctx context.Context, format export.Format) error {
	attachmentsDir := filepath.Join(r.workspace, AttachmentsDir)
	chatsDir := filepath.Join(r.workspace, ChatsDir)
	for _, dir := range []string{attachmentsDir, chatsDir} {
		if err := fileutil.SecureMkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
	}

	r.phase(PhaseFetching, 3)
	messages, contacts, chats, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	jobs, names := r.planCopies(messages)
	r.phase(PhaseAttachments, len(jobs))
	r.forEach(ctx, PhaseAttachments, len(jobs), func(i int) string {
		r.copyAttachment(jobs[i], attachmentsDir)
		return jobs[i].name
	})
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	corr := Correlate(messages, contacts)
	r.phase(PhaseChats, len(chats))
	r.forEach(ctx, PhaseChats, len(chats), func(i int) string {
		r.writeChat(chats[i], corr, names, chatsDir)
		return fmt.Sprintf("chat_%d", chats[i].ID)
	})
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	r.phase(PhaseArchiving, 1)
	stats, err := export.WriteArchive(ctx, r.workspace, r.opts.Output, format)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return err
	}
	r.summary.ArchiveSize = stats.Size
	r.summary.ArchiveEntries = stats.Entries
	r.progress.OnItem(PhaseArchiving, 1, 1, stats.Path)
	return nil
}

func (r *exportRun) phase(p Phase, total int) {
	r.logger.Debug("export phase", "phase", p, "total", total)
	r.progress.OnPhase(p, total)
}

// fetch reads and maps all rows. Errors are *SourceUnreadableError or an
// interruption.
func (r *exportRun) fetch(ctx context.Context) ([]Message, []Contact, []Chat, error) {
	if ctx.Err() != nil {
		return nil, nil, nil, interrupted(ctx)
	}

	root := r.layout.Root
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, nil, &SourceUnreadableError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, nil, nil, &SourceUnreadableError{Path: root, Err: errors.New("not a directory")}
	}

	encrypted, err := r.layout.IsEncrypted()
	if err != nil {
		r.logger.Warn("ignoring unreadable manifest", "path", r.layout.ManifestPlist(), "error", err)
	}
	if encrypted {
		return nil, nil, nil, &SourceUnreadableError{
			Path:      r.layout.ManifestPlist(),
			Encrypted: true,
			Err:       errors.New("IsEncrypted is set"),
		}
	}

	src, err := r.open(r.layout)
	if err != nil {
		return nil, nil, nil, r.sourceError(ctx, err)
	}
	defer src.Close()

	msgRows, err := src.Messages(ctx)
	if err != nil {
		return nil, nil, nil, r.sourceError(ctx, err)
	}
	r.progress.OnItem(PhaseFetching, 1, 3, "messages")

	contactRows, err := src.Contacts(ctx)
	if err != nil {
		return nil, nil, nil, r.sourceError(ctx, err)
	}
	r.progress.OnItem(PhaseFetching, 2, 3, "contacts")

	chatRows, err := src.Chats(ctx)
	if err != nil {
		return nil, nil, nil, r.sourceError(ctx, err)
	}
	r.progress.OnItem(PhaseFetching, 3, 3, "chats")

	messages := make([]Message, len(msgRows))
	ids := make(map[int64]struct{}, len(msgRows))
	for i, row := range msgRows {
		messages[i] = messageFromRow(row)
		ids[row.RowID] = struct{}{}
	}
	contacts := make([]Contact, len(contactRows))
	for i, row := range contactRows {
		contacts[i] = contactFromRow(row, r.opts.Region)
	}
	chats := make([]Chat, len(chatRows))
	for i, row := range chatRows {
		chats[i] = chatFromRow(row)
	}

	r.summary.Messages = int64(len(ids))
	r.summary.Contacts = int64(len(contacts))
	r.summary.Chats = int64(len(chats))
	r.logger.Debug("fetched backup rows",
		"messages", len(ids), "message_rows", len(msgRows),
		"contacts", len(contacts), "chats", len(chats))
	return messages, contacts, chats, nil
}

// sourceError classifies a failure to read rows.
func (r *exportRun) sourceError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}
	var sue *SourceUnreadableError
	if errors.As(err, &sue) {
		return err
	}
	return &SourceUnreadableError{Path: r.layout.Root, Encrypted: isNotADatabase(err), Err: err}
}

type copyJob struct {
	logicalPath string
	name        string
}

// planCopies lists each distinct attachment once, in message order, and
// returns the archive name assigned to each accepted logical path. An
// attachment whose destination name is unusable, or already taken by a
// different attachment, is reported as failed, not copied, and left out of
// the returned names.
func (r *exportRun) planCopies(messages []Message) ([]copyJob, map[string]string) {
	var jobs []copyJob
	seen := make(map[string]bool)
	names := make(map[string]string)   // logical path → name
	claimed := make(map[string]string) // name → logical path
	for _, m := range messages {
		if !m.HasAttachment() || seen[m.AttachmentPath] {
			continue
		}
		seen[m.AttachmentPath] = true
		r.summary.AttachmentsTotal++

		name := AttachmentFilename(m.AttachmentPath)
		if !validFilename(name) {
			r.itemFailed(&AttachmentCopyError{
				LogicalPath: m.AttachmentPath,
				Err:         fmt.Errorf("invalid destination name %q", name),
			})
			continue
		}
		if other, ok := claimed[name]; ok {
			r.itemFailed(&AttachmentCopyError{
				LogicalPath: m.AttachmentPath,
				Err:         fmt.Errorf("destination %s already used by %s", name, other),
			})
			continue
		}
		claimed[name] = m.AttachmentPath
		names[m.AttachmentPath] = name
		jobs = append(jobs, copyJob{logicalPath: m.AttachmentPath, name: name})
	}
	return jobs, names
}

// forEach runs fn for items 0..n-1 on up to opts.Workers goroutines and
// reports each finished item, labelled with fn's result. The context is
// checked before each item; once it is done no new items start.
func (r *exportRun) forEach(ctx context.Context, phase Phase, n int, fn func(i int) string) {
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)

	var mu sync.Mutex
	done := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			label := fn(i)

			mu.Lock()
			done++
			d := done
			mu.Unlock()
			r.progress.OnItem(phase, d, n, label)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *exportRun) copyAttachment(job copyJob, dir string) {
	src, err := r.layout.LocateAttachment(job.logicalPath)
	if err != nil {
		r.itemFailed(err)
		return
	}
	n, err := fileutil.CopyFile(src, filepath.Join(dir, job.name), 0644)
	if err != nil {
		r.itemFailed(&AttachmentCopyError{LogicalPath: job.logicalPath, Err: err})
		return
	}

	r.mu.Lock()
	r.summary.AttachmentsCopied++
	r.summary.BytesCopied += n
	r.mu.Unlock()
}

func (r *exportRun) writeChat(chat Chat, corr *Correlation, names map[string]string, dir string) {
	doc := chatDocument(chat, corr.Messages(chat), corr.ParticipantNames(chat), names)
	data, err := encodeDocument(doc)
	if err == nil {
		path := filepath.Join(dir, fmt.Sprintf("chat_%d.json", chat.ID))
		err = fileutil.SecureWriteFile(path, data, 0644)
	}
	if err != nil {
		r.itemFailed(&ChatExportError{ChatID: chat.ID, Err: err})
		return
	}

	r.mu.Lock()
	r.summary.ChatsWritten++
	r.mu.Unlock()
}

// itemFailed logs and counts a per-item failure and reports it to the
// progress callbacks.
func (r *exportRun) itemFailed(err error) {
	var notFound *backup.NotFoundError
	var copyErr *AttachmentCopyError
	var chatErr *ChatExportError

	r.mu.Lock()
	r.summary.Errors++
	switch {
	case errors.As(err, &notFound):
		r.summary.AttachmentsMissing++
	case errors.As(err, &copyErr):
		r.summary.AttachmentsFailed++
	case errors.As(err, &chatErr):
		r.summary.ChatsFailed++
	}
	r.mu.Unlock()

	switch {
	case notFound != nil:
		r.logger.Warn("attachment not found",
			"logical_path", notFound.LogicalPath, "probed_path", notFound.ProbedPath)
	case copyErr != nil:
		r.logger.Warn("attachment copy failed",
			"logical_path", copyErr.LogicalPath, "error", copyErr.Err)
	case chatErr != nil:
		r.logger.Warn("chat export failed", "chat_id", chatErr.ChatID, "error", chatErr.Err)
	default:
		r.logger.Warn("export item failed", "error", err)
	}
	r.progress.OnError(err)
}

// syncProgress serializes calls to an ExportProgress.
type syncProgress struct {
	mu sync.Mutex
	p  ExportProgress
}

func (s *syncProgress) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OnStart()
}

func (s *syncProgress) OnPhase(phase Phase, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OnPhase(phase, total)
}

func (s *syncProgress) OnItem(phase Phase, done, total int, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OnItem(phase, done, total, current)
}

func (s *syncProgress) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OnError(err)
}

func (s *syncProgress) OnComplete(summary *ExportSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OnComplete(summary)
}
