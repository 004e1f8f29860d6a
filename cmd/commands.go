package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/config"
	"github.com/dargueta/v7fs/disks"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	"github.com/dargueta/v7fs/utilities/compression"
	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// environment is everything a command needs to work on a mounted image.
type environment struct {
	config  config.Config
	logger  *zap.Logger
	store   *blockstore.BlockStore
	fs      *v7.FileSystem
	manager *v7.FileManager
}

// loadConfig reads the configuration and applies the global command-line flags
// on top of it.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return cfg, err
	}

	if ctx.IsSet("image") {
		cfg.Image = ctx.String("image")
	}
	if ctx.IsSet("geometry") {
		cfg.Geometry = ctx.String("geometry")
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
	}
	return cfg, cfg.Validate()
}

// openStore opens the image named in the configuration. A new or empty image
// is sized for the configured geometry. An existing one is left alone, since
// its superblock knows its real size.
func openStore(cfg config.Config) (*blockstore.BlockStore, v7.Geometry, error) {
	preset, err := disks.GetPredefinedGeometry(cfg.Geometry)
	if err != nil {
		return nil, v7.Geometry{}, err
	}
	geometry := preset.Geometry()

	minBlocks := uint(geometry.TotalSectors())
	info, err := os.Stat(cfg.Image)
	if err == nil && info.Size() > 0 {
		minBlocks = 0
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, geometry, v7fs.ErrIOFailed.Wrap(err)
	}

	store, err := blockstore.Open(cfg.Image, v7.SectorSize, minBlocks)
	return store, geometry, err
}

func openImage(ctx *cli.Context) (*environment, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}

	store, geometry, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	fs, err := v7.Mount(store, v7.Options{Geometry: geometry, Logger: logger})
	if err != nil {
		return nil, v7fs.AppendCleanupError(err, store.Close())
	}

	session := v7fs.NewMemorySession(
		v7fs.Account{
			UserID:    cfg.User.UID,
			GroupID:   cfg.User.GID,
			HomeInode: v7.RootInode,
		},
	)
	return &environment{
		config:  cfg,
		logger:  logger,
		store:   store,
		fs:      fs,
		manager: fs.NewFileManager(session),
	}, nil
}

func (env *environment) Close() error {
	err := env.fs.Unmount()
	err = v7fs.AppendCleanupError(err, env.store.Close())
	// Syncing stderr fails on some platforms, and there's nothing to do about it.
	_ = env.logger.Sync()
	return err
}

// withImage mounts the configured image around `action`.
func withImage(action func(*cli.Context, *environment) error) cli.ActionFunc {
	return func(ctx *cli.Context) (err error) {
		env, err := openImage(ctx)
		if err != nil {
			return err
		}
		defer func() {
			err = v7fs.AppendCleanupError(err, env.Close())
		}()
		return action(ctx, env)
	}
}

func requireArgs(ctx *cli.Context, count int) error {
	if ctx.NArg() != count {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%s takes %d argument(s), got %d", ctx.Command.Name, count, ctx.NArg()))
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func formatImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 0); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	preset, err := disks.GetPredefinedGeometry(cfg.Geometry)
	if err != nil {
		return err
	}
	geometry := preset.Geometry()

	totalSectors := uint(geometry.TotalSectors())
	store, err := blockstore.Open(cfg.Image, v7.SectorSize, totalSectors)
	if err != nil {
		return err
	}

	// A reused image may be bigger than the new geometry needs.
	if store.TotalBlocks() != totalSectors {
		if err = store.Resize(totalSectors); err != nil {
			return v7fs.AppendCleanupError(err, store.Close())
		}
	}

	err = v7.Format(store, v7.Options{Geometry: geometry, Logger: logger})
	err = v7fs.AppendCleanupError(err, store.Close())
	if err != nil {
		return err
	}

	fmt.Fprintf(
		ctx.App.Writer,
		"formatted %s: %s, %d data sectors\n",
		cfg.Image,
		preset.Name,
		geometry.DataSectors,
	)
	return nil
}

func showUsage(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 0); err != nil {
		return err
	}

	stat := env.fs.FSStat()
	out := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(out, "Volume ID:\t%s\n", stat.VolumeID)
	fmt.Fprintf(out, "Block size:\t%d\n", stat.BlockSize)
	fmt.Fprintf(out, "Blocks:\t%d\n", stat.TotalBlocks)
	fmt.Fprintf(
		out, "Free blocks:\t%d (%.1f%%)\n", stat.BlocksFree, stat.FreeRatio()*100)
	fmt.Fprintf(out, "Free bytes:\t%d\n", stat.FreeBytes())
	fmt.Fprintf(out, "Inodes:\t%d\n", stat.Files)
	fmt.Fprintf(out, "Free inodes:\t%d\n", stat.FilesFree)
	fmt.Fprintf(out, "Last modified:\t%s\n", stat.ModifiedAt.UTC().Format(time.RFC3339))
	return out.Flush()
}

// listingRow is one line of `ls` output.
type listingRow struct {
	Mode     string `csv:"mode"`
	Links    int    `csv:"links"`
	UserID   int    `csv:"uid"`
	GroupID  int    `csv:"gid"`
	Size     int64  `csv:"size"`
	Inode    int32  `csv:"inode"`
	Modified string `csv:"modified"`
	Name     string `csv:"name"`
}

func listDirectory(ctx *cli.Context, env *environment) error {
	if ctx.NArg() > 1 {
		return requireArgs(ctx, 1)
	}

	path := ctx.Args().First()
	entries, err := env.manager.GetEntries(path, ctx.Bool("all"))
	if err != nil {
		return err
	}

	prefix := ""
	if path != "" {
		prefix = v7.ToDirectoryPath(path)
	}

	rows := make([]listingRow, 0, len(entries))
	for _, entry := range entries {
		stat, err := env.manager.Stat(prefix + entry.Name())
		if err != nil {
			return err
		}
		rows = append(
			rows,
			listingRow{
				Mode:     v7fs.FormatMode(stat.Mode),
				Links:    stat.LinkCount,
				UserID:   stat.UserID,
				GroupID:  stat.GroupID,
				Size:     stat.Size,
				Inode:    stat.InodeNumber,
				Modified: stat.ModifiedAt.UTC().Format(time.RFC3339),
				Name:     entry.Name(),
			},
		)
	}

	if ctx.Bool("csv") {
		return gocsv.Marshal(rows, ctx.App.Writer)
	}

	out := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 1, ' ', tabwriter.AlignRight)
	for _, row := range rows {
		fmt.Fprintf(
			out,
			"%s\t%d\t%d\t%d\t%d\t%s\t %s\n",
			row.Mode,
			row.Links,
			row.UserID,
			row.GroupID,
			row.Size,
			row.Modified,
			row.Name,
		)
	}
	return out.Flush()
}

func makeDirectory(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	return env.manager.CreateDirectory(v7.ToDirectoryPath(ctx.Args().First()))
}

func removeDirectory(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	return env.manager.DeleteDirectory(ctx.Args().First(), ctx.Bool("recursive"))
}

func touchFile(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	err := env.manager.CreateFile(ctx.Args().First())
	if errors.Is(err, v7fs.ErrAlreadyExists) {
		return nil
	}
	return err
}

func removeFile(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	return env.manager.DeleteFile(ctx.Args().First())
}

func importFile(ctx *cli.Context, env *environment) (err error) {
	if err = requireArgs(ctx, 2); err != nil {
		return err
	}
	hostPath := ctx.Args().Get(0)
	path := ctx.Args().Get(1)

	source, err := os.Open(hostPath)
	if err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	defer source.Close()

	err = env.manager.CreateFile(path)
	if err != nil && !errors.Is(err, v7fs.ErrAlreadyExists) {
		return err
	}

	file, err := env.manager.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = v7fs.AppendCleanupError(err, env.manager.Close(file))
	}()

	if err = env.manager.Truncate(file, 0); err != nil {
		return err
	}
	written, err := io.Copy(file, source)
	if err != nil {
		return err
	}

	env.logger.Info(
		"imported file",
		zap.String("host_path", hostPath),
		zap.String("path", path),
		zap.Int64("bytes", written),
	)
	return nil
}

func exportFile(ctx *cli.Context, env *environment) (err error) {
	if err = requireArgs(ctx, 2); err != nil {
		return err
	}
	path := ctx.Args().Get(0)
	hostPath := ctx.Args().Get(1)

	file, err := env.manager.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = v7fs.AppendCleanupError(err, env.manager.Close(file))
	}()

	target, err := os.Create(hostPath)
	if err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	defer func() {
		if closeErr := target.Close(); closeErr != nil {
			err = v7fs.AppendCleanupError(err, v7fs.ErrIOFailed.Wrap(closeErr))
		}
	}()

	if _, err = io.Copy(target, file); err != nil {
		return err
	}
	return nil
}

func catFile(ctx *cli.Context, env *environment) (err error) {
	if err = requireArgs(ctx, 1); err != nil {
		return err
	}

	file, err := env.manager.Open(ctx.Args().First())
	if err != nil {
		return err
	}
	defer func() {
		err = v7fs.AppendCleanupError(err, env.manager.Close(file))
	}()

	_, err = io.Copy(ctx.App.Writer, file)
	return err
}

func statPath(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	// Directories are only found by their slash-terminated path.
	path := ctx.Args().First()
	isDirectory, err := env.manager.DirectoryExists(path)
	if err != nil {
		return err
	}
	if isDirectory {
		path = v7.ToDirectoryPath(path)
	}

	stat, err := env.manager.Stat(path)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(out, "Name:\t%s\n", stat.Name)
	fmt.Fprintf(out, "Inode:\t%d\n", stat.InodeNumber)
	fmt.Fprintf(out, "Mode:\t%s (%06o)\n", v7fs.FormatMode(stat.Mode), stat.Mode)
	fmt.Fprintf(out, "Links:\t%d\n", stat.LinkCount)
	fmt.Fprintf(out, "Owner:\t%d:%d\n", stat.UserID, stat.GroupID)
	fmt.Fprintf(out, "Size:\t%d\n", stat.Size)
	fmt.Fprintf(out, "Blocks:\t%d\n", stat.Blocks)
	fmt.Fprintf(out, "Accessed:\t%s\n", stat.AccessedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Modified:\t%s\n", stat.ModifiedAt.UTC().Format(time.RFC3339))
	return out.Flush()
}

func checkImage(ctx *cli.Context, env *environment) error {
	if err := requireArgs(ctx, 0); err != nil {
		return err
	}

	report, err := env.fs.Check()
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(
		out,
		"Free sectors:\t%d stored, %d reachable\n",
		report.StoredFreeSectors,
		report.ReachableFreeSectors,
	)
	fmt.Fprintf(
		out,
		"Free inodes:\t%d stored, %d reachable, %d unused slots\n",
		report.StoredFreeInodes,
		report.ReachableFreeInodes,
		report.FreeInodeSlots,
	)
	fmt.Fprintf(
		out,
		"Checked out:\t%d sectors, %d inodes\n",
		report.CheckedOutSectors,
		report.CheckedOutInodes,
	)
	if err = out.Flush(); err != nil {
		return err
	}

	if !report.Consistent() {
		return cli.Exit("image is inconsistent", 1)
	}
	fmt.Fprintln(ctx.App.Writer, "image is consistent")
	return nil
}

// copyHostFiles streams `inputPath` through `transform` into a new file at
// `outputPath`.
func copyHostFiles(
	inputPath string,
	outputPath string,
	transform func(io.Reader, io.Writer) (int64, error),
) (size int64, err error) {
	input, err := os.Open(inputPath)
	if err != nil {
		return 0, v7fs.ErrIOFailed.Wrap(err)
	}
	defer input.Close()

	output, err := os.Create(outputPath)
	if err != nil {
		return 0, v7fs.ErrIOFailed.Wrap(err)
	}
	defer func() {
		if closeErr := output.Close(); closeErr != nil {
			err = v7fs.AppendCleanupError(err, v7fs.ErrIOFailed.Wrap(closeErr))
		}
	}()

	return transform(input, output)
}

func packImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	size, err := copyHostFiles(cfg.Image, ctx.Args().First(), compression.PackImage)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "packed %d bytes from %s\n", size, cfg.Image)
	return nil
}

func unpackImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	size, err := copyHostFiles(ctx.Args().First(), cfg.Image, compression.UnpackImage)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "restored %d bytes to %s\n", size, cfg.Image)
	return nil
}
