// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	mpq "github.com/suprsokr/mpqkit"
)

func (t *tool) commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "create",
			Usage:     "create an empty archive",
			ArgsUsage: "<archive>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "max-files", Usage: "files the hash table holds before it grows"},
				&cli.IntFlag{Name: "sector-shift", Usage: "sector size is 512 << shift"},
				&cli.IntFlag{Name: "format", Usage: "format version, 1 or 2"},
				&cli.BoolFlag{Name: "fixed", Usage: "never grow the hash table"},
				&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite an existing file"},
			},
			Action: t.create,
		},
		{
			Name:      "add",
			Usage:     "add files or directories to an archive",
			ArgsUsage: "<archive> <path>...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Usage: "archive name for a single added file"},
				&cli.StringFlag{Name: "prefix", Usage: "archive directory to add under"},
				&cli.StringFlag{Name: "compression", Usage: "compression methods, e.g. zlib, bzip2, lzma, sparse+zlib, none"},
				&cli.BoolFlag{Name: "encrypt", Usage: "encrypt added files"},
				&cli.BoolFlag{Name: "fix-key", Usage: "adjust the encryption key by file position"},
				&cli.BoolFlag{Name: "replace", Usage: "replace files that already exist"},
				&cli.BoolFlag{Name: "single-unit", Usage: "store each file as one unit"},
				&cli.BoolFlag{Name: "crc", Usage: "store sector checksums"},
				&cli.IntFlag{Name: "locale", Usage: "locale id of the added files"},
			},
			Action: t.add,
		},
		{
			Name:      "extract",
			Usage:     "extract files from an archive",
			ArgsUsage: "<archive> [name...]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: ".", Usage: "destination directory"},
			},
			Action: t.extract,
		},
		{
			Name:      "remove",
			Usage:     "remove files from an archive",
			ArgsUsage: "<archive> <name>...",
			Action:    t.remove,
		},
		{
			Name:      "list",
			Usage:     "list the files of an archive",
			ArgsUsage: "<archive>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "show sizes and flags"},
			},
			Action: t.list,
		},
		{
			Name:      "info",
			Usage:     "show the archive header and tables",
			ArgsUsage: "<archive>",
			Action:    t.info,
		},
		{
			Name:      "verify",
			Usage:     "check file checksums",
			ArgsUsage: "<archive> [name...]",
			Action:    t.verify,
		},
		{
			Name:      "compact",
			Usage:     "rewrite an archive without unused space",
			ArgsUsage: "<archive>",
			Action:    t.compact,
		},
	}
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return errors.Errorf("%s: expected at least %d argument(s), usage: %s %s", c.Command.Name, n, c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

func (t *tool) open(path string, writable bool) (*mpq.Archive, error) {
	opts, err := t.cfg.ArchiveOptions(t.logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, mpq.WithReadOnly(!writable))
	archive, err := mpq.Open(path, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return archive, nil
}

// closeArchive closes archive, keeping the first error.
func closeArchive(archive *mpq.Archive, err *error) {
	if cerr := archive.Close(); cerr != nil && *err == nil {
		*err = errors.Wrap(cerr, "close archive")
	}
}

func (t *tool) create(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	path := c.Args().First()

	cfg := t.cfg
	if c.IsSet("max-files") {
		cfg.MaxFiles = c.Int("max-files")
	}
	if c.IsSet("sector-shift") {
		cfg.SectorSizeShift = uint16(c.Int("sector-shift"))
	}
	if c.IsSet("format") {
		cfg.FormatVersion = c.Int("format")
	}

	opts, err := cfg.ArchiveOptions(t.logger)
	if err != nil {
		return err
	}
	opts = append(opts, mpq.WithOverwrite(c.Bool("force")))
	if c.Bool("fixed") {
		opts = append(opts, mpq.WithFixedTables())
	}

	archive, err := mpq.Create(path, cfg.MaxFiles, opts...)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := archive.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	t.logger.WithField("path", path).Info("created archive")
	return nil
}

func (t *tool) addOptions(c *cli.Context) ([]mpq.AddOption, error) {
	cfg := t.cfg
	if c.IsSet("compression") {
		cfg.Compression = c.String("compression")
	}
	if c.IsSet("encrypt") {
		cfg.Encrypt = c.Bool("encrypt")
	}
	if c.IsSet("fix-key") {
		cfg.FixKey = c.Bool("fix-key")
		cfg.Encrypt = cfg.Encrypt || cfg.FixKey
	}

	opts, err := cfg.AddOptions()
	if err != nil {
		return nil, err
	}
	if c.Bool("replace") {
		opts = append(opts, mpq.WithReplace())
	}
	if c.Bool("single-unit") {
		opts = append(opts, mpq.WithSingleUnit())
	}
	if c.Bool("crc") {
		opts = append(opts, mpq.WithSectorCRC())
	}
	if c.IsSet("locale") {
		opts = append(opts, mpq.WithFileLocale(uint16(c.Int("locale"))))
	}
	return opts, nil
}

// archiveName joins an archive directory and a relative local path with
// backslashes.
func archiveName(prefix, rel string) string {
	name := strings.ReplaceAll(filepath.ToSlash(rel), "/", "\\")
	prefix = strings.Trim(strings.ReplaceAll(prefix, "/", "\\"), "\\")
	if prefix == "" {
		return name
	}
	return prefix + "\\" + name
}

func (t *tool) add(c *cli.Context) (err error) {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	path := c.Args().First()
	sources := c.Args().Slice()[1:]
	if c.IsSet("name") && len(sources) != 1 {
		return errors.New("--name needs exactly one source file")
	}

	opts, err := t.addOptions(c)
	if err != nil {
		return err
	}

	archive, err := t.open(path, true)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	for _, src := range sources {
		if c.IsSet("name") {
			if err := archive.AddFile(src, c.String("name"), opts...); err != nil {
				return errors.Wrapf(err, "add %s", src)
			}
			continue
		}

		root := filepath.Dir(src)
		walkErr := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			name := archiveName(c.String("prefix"), rel)
			if err := archive.AddFile(p, name, opts...); err != nil {
				return errors.Wrapf(err, "add %s", p)
			}
			t.logger.WithFields(logrus.Fields{"file": p, "name": name}).Info("added file")
			return nil
		})
		if walkErr != nil {
			return walkErr
		}
	}
	return nil
}

// localPath maps an archive name to a path below dir.
func localPath(dir, name string) string {
	return filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
}

func (t *tool) extract(c *cli.Context) (err error) {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	archive, err := t.open(c.Args().First(), false)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	names := c.Args().Slice()[1:]
	if len(names) == 0 {
		if names, err = archive.ListFiles(); err != nil {
			return errors.Wrap(err, "list files")
		}
	}

	out := c.String("out")
	for _, name := range names {
		dest := localPath(out, name)
		if rel, err := filepath.Rel(out, dest); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return errors.Errorf("refusing to extract %s outside %s", name, out)
		}
		if err := archive.ExtractFile(name, dest); err != nil {
			return errors.Wrapf(err, "extract %s", name)
		}
		t.logger.WithFields(logrus.Fields{"name": name, "file": dest}).Info("extracted file")
	}
	return nil
}

func (t *tool) remove(c *cli.Context) (err error) {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	archive, err := t.open(c.Args().First(), true)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	for _, name := range c.Args().Slice()[1:] {
		if err := archive.RemoveFile(name); err != nil {
			return errors.Wrapf(err, "remove %s", name)
		}
		t.logger.WithField("name", name).Info("removed file")
	}
	return nil
}

func (t *tool) list(c *cli.Context) (err error) {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	archive, err := t.open(c.Args().First(), false)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	names, err := archive.ListFiles()
	if err != nil {
		return errors.Wrap(err, "list files")
	}

	if !c.Bool("long") {
		for _, name := range names {
			fmt.Fprintln(c.App.Writer, name)
		}
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, name := range names {
		info, err := archive.Stat(name)
		if err != nil {
			return errors.Wrapf(err, "stat %s", name)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t\t%s\n", info.Size, info.CompressedSize, flagString(info), name)
	}
	return w.Flush()
}

func flagString(info mpq.FileInfo) string {
	flags := []byte("----")
	if info.Compressed() {
		flags[0] = 'c'
	}
	if info.Encrypted() {
		flags[1] = 'e'
	}
	if info.SingleUnit() {
		flags[2] = 's'
	}
	if info.HasSectorCRC() {
		flags[3] = 'k'
	}
	return string(flags)
}

func (t *tool) info(c *cli.Context) (err error) {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	archive, err := t.open(c.Args().First(), false)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	info, err := archive.Info()
	if err != nil {
		return err
	}
	sig, err := archive.ReadSignature()
	if err != nil {
		return errors.Wrap(err, "read signature")
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 1, ' ', 0)
	fmt.Fprintf(w, "path:\t%s\n", info.Path)
	fmt.Fprintf(w, "format:\tv%d\n", int(info.FormatVersion)+1)
	fmt.Fprintf(w, "offset:\t%d\n", info.Offset)
	fmt.Fprintf(w, "size:\t%d\n", info.ArchiveSize)
	fmt.Fprintf(w, "sector size:\t%d\n", info.SectorSize)
	fmt.Fprintf(w, "hash table:\t%d slots\n", info.HashTableSize)
	fmt.Fprintf(w, "block table:\t%d entries\n", info.BlockTableSize)
	fmt.Fprintf(w, "files:\t%d\n", info.FileCount)
	fmt.Fprintf(w, "listfile:\t%t\n", info.HasListFile)
	fmt.Fprintf(w, "attributes:\t%t\n", info.HasAttributes)
	fmt.Fprintf(w, "signature:\t%s\n", sig)
	return w.Flush()
}

func (t *tool) verify(c *cli.Context) (err error) {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	archive, err := t.open(c.Args().First(), false)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	names := c.Args().Slice()[1:]
	if len(names) == 0 {
		if names, err = archive.ListFiles(); err != nil {
			return errors.Wrap(err, "list files")
		}
	}

	failed := 0
	for _, name := range names {
		if verr := archive.Verify(name); verr != nil {
			failed++
			t.logger.WithError(verr).WithField("name", name).Error("verification failed")
			continue
		}
		fmt.Fprintf(c.App.Writer, "ok  %s\n", name)
	}
	if failed > 0 {
		return errors.Errorf("%d of %d files failed verification", failed, len(names))
	}
	return nil
}

func (t *tool) compact(c *cli.Context) (err error) {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	archive, err := t.open(c.Args().First(), true)
	if err != nil {
		return err
	}
	defer closeArchive(archive, &err)

	if err := archive.Compact(); err != nil {
		return errors.Wrap(err, "compact")
	}
	t.logger.WithField("path", c.Args().First()).Info("compacted archive")
	return nil
}
