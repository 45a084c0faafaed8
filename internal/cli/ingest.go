package cli

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
)

const newRecordPrefix = "new:"

// ErrIncomplete is returned when at least one file was not uploaded.
var ErrIncomplete = errors.New("some files were not uploaded")

type ingestOptions struct {
	recordID  string
	newRecord string
	mappings  []string
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Upload evidence files to one or more item records",
		Long: `Upload evidence files in one batch.

Every file needs a destination. Use --record to send all files to an existing
item, --new-record to create one item for all of them, or --map to route files
individually. A mapping value is either an item id or new:NAME. Mappings
override --record and --new-record for the files they name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runIngest(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.recordID, "record", "", "Existing item id for every file")
	cmd.Flags().StringVar(&opts.newRecord, "new-record", "", "Name of a new item created for every file")
	cmd.Flags().StringArrayVar(&opts.mappings, "map", nil, "FILE=DEST routing, DEST is an item id or new:NAME (repeatable)")
	return cmd
}

func (c *commandContext) runIngest(cmd *cobra.Command, paths []string, opts *ingestOptions) error {
	if opts.recordID != "" && opts.newRecord != "" {
		return errors.New("--record and --new-record are mutually exclusive")
	}
	mappings, err := parseMappings(opts.mappings)
	if err != nil {
		return err
	}
	profile, err := c.profile(cmd)
	if err != nil {
		return err
	}
	timeout, err := profile.TimeoutDuration()
	if err != nil {
		return err
	}
	client, err := c.newRemote(profile)
	if err != nil {
		return err
	}
	logger := c.logger(cmd)
	defer func() { _ = logger.Sync() }()

	runCtx := cmd.Context()
	user, err := client.Profile(runCtx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}

	files, err := openFiles(paths)
	if err != nil {
		return err
	}
	tickets := ingest.NewIntake(ingest.IntakeConfig{}, logger).Submit(files)
	batch := ingest.NewBatch(user.ID, tickets)
	defer batch.Close()

	if err := assignDestinations(batch, opts, mappings); err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(client, client, ingest.Config{
		Parallelism:     profile.Parallelism,
		TransferTimeout: timeout,
	}, nil, logger)

	summary, err := pipeline.Run(runCtx, batch)
	var unassigned *ingest.UnassignedError
	if errors.As(err, &unassigned) {
		names := ticketNames(batch.Snapshot(), unassigned.TicketIDs)
		return fmt.Errorf("no destination for: %s (use --record, --new-record or --map)", strings.Join(names, ", "))
	}
	if err != nil {
		return err
	}

	renderSummary(cmd.OutOrStdout(), summary, c.colored(cmd.OutOrStdout()))
	if summary.Counts.Failed > 0 || summary.Counts.Rejected > 0 || summary.Counts.Pending > 0 {
		return ErrIncomplete
	}
	return nil
}

func parseMappings(values []string) (map[string]models.DestinationKey, error) {
	mappings := make(map[string]models.DestinationKey, len(values))
	for _, value := range values {
		name, dest, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		dest = strings.TrimSpace(dest)
		if !ok || name == "" || dest == "" {
			return nil, fmt.Errorf("invalid --map %q: expected FILE=DEST", value)
		}
		key := models.ExistingRecord(dest)
		if strings.HasPrefix(dest, newRecordPrefix) {
			key = models.NewRecord(strings.TrimSpace(strings.TrimPrefix(dest, newRecordPrefix)))
		}
		if !key.Assigned() {
			return nil, fmt.Errorf("invalid --map %q: empty destination", value)
		}
		mappings[filepath.Base(name)] = key
	}
	return mappings, nil
}

func assignDestinations(batch *ingest.Batch, opts *ingestOptions, mappings map[string]models.DestinationKey) error {
	switch {
	case opts.recordID != "":
		if err := batch.AssignAll(models.ExistingRecord(strings.TrimSpace(opts.recordID))); err != nil {
			return fmt.Errorf("assign --record: %w", err)
		}
	case opts.newRecord != "":
		if err := batch.AssignAll(models.NewRecord(opts.newRecord)); err != nil {
			return fmt.Errorf("assign --new-record: %w", err)
		}
	}
	if len(mappings) == 0 {
		return nil
	}

	matched := make(map[string]bool, len(mappings))
	for _, t := range batch.Snapshot().Tickets {
		key, ok := mappings[t.OriginalName]
		if !ok {
			continue
		}
		matched[t.OriginalName] = true
		if t.State == models.TicketStateRejected {
			continue
		}
		if err := batch.Assign(t.TicketID, key); err != nil {
			return fmt.Errorf("assign %s: %w", t.OriginalName, err)
		}
	}
	for name := range mappings {
		if !matched[name] {
			return fmt.Errorf("--map names %q which is not among the files", name)
		}
	}
	return nil
}

func openFiles(paths []string) ([]ingest.RawFile, error) {
	files := make([]ingest.RawFile, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			_ = f.Content.Close()
		}
	}
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			closeAll()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			_ = file.Close()
			closeAll()
			return nil, fmt.Errorf("%s is a directory", path)
		}
		contentType, err := fileContentType(file)
		if err != nil {
			_ = file.Close()
			closeAll()
			return nil, fmt.Errorf("inspect %s: %w", path, err)
		}
		files = append(files, ingest.RawFile{
			Name:        filepath.Base(path),
			ContentType: contentType,
			Size:        info.Size(),
			Content:     file,
		})
	}
	return files, nil
}

// fileContentType prefers the extension and falls back to sniffing the first
// bytes. The file is rewound afterwards.
func fileContentType(file *os.File) (string, error) {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(file.Name()))); byExt != "" {
		return ingest.NormalizeContentType(byExt), nil
	}
	header := make([]byte, 512)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	return ingest.NormalizeContentType(http.DetectContentType(header[:n])), nil
}

func ticketNames(summary models.BatchSummary, ids []string) []string {
	byID := make(map[string]string, len(summary.Tickets))
	for _, t := range summary.Tickets {
		byID[t.TicketID] = t.OriginalName
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := byID[id]; ok {
			names = append(names, name)
			continue
		}
		names = append(names, id)
	}
	return names
}
