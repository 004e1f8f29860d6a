package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dargueta/v7fs/disks"
	"github.com/urfave/cli/v2"
)

func main() {
	app := newApp()
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %s\n", err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "v7fs",
		Usage: "Manage Unix V7-style file system images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load settings from the YAML `FILE`",
				EnvVars: []string{"V7FS_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path to the image `FILE`",
			},
			&cli.StringFlag{
				Name: "geometry",
				Usage: "geometry preset used when formatting, one of: " +
					strings.Join(disks.Slugs(), ", "),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "minimum `LEVEL` of log messages written to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Create or wipe an image",
				Action: formatImage,
			},
			{
				Name:   "df",
				Usage:  "Show space usage of an image",
				Action: withImage(showUsage),
			},
			{
				Name:      "ls",
				Usage:     "List the contents of a directory",
				ArgsUsage: "[PATH]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "all",
						Aliases: []string{"a"},
						Usage:   "include the ./ and ../ entries",
					},
					&cli.BoolFlag{
						Name:  "csv",
						Usage: "write the listing as CSV",
					},
				},
				Action: withImage(listDirectory),
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "PATH",
				Action:    withImage(makeDirectory),
			},
			{
				Name:      "rmdir",
				Usage:     "Remove a directory",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "recursive",
						Aliases: []string{"r"},
						Usage:   "remove everything inside the directory too",
					},
				},
				Action: withImage(removeDirectory),
			},
			{
				Name:      "touch",
				Usage:     "Create an empty file if it doesn't exist",
				ArgsUsage: "PATH",
				Action:    withImage(touchFile),
			},
			{
				Name:      "rm",
				Usage:     "Remove a file",
				ArgsUsage: "PATH",
				Action:    withImage(removeFile),
			},
			{
				Name:      "import",
				Usage:     "Copy a file from the host into the image",
				ArgsUsage: "HOST_FILE  PATH",
				Action:    withImage(importFile),
			},
			{
				Name:      "export",
				Usage:     "Copy a file from the image to the host",
				ArgsUsage: "PATH  HOST_FILE",
				Action:    withImage(exportFile),
			},
			{
				Name:      "cat",
				Usage:     "Write the contents of a file to stdout",
				ArgsUsage: "PATH",
				Action:    withImage(catFile),
			},
			{
				Name:      "stat",
				Usage:     "Show the metadata of a file or directory",
				ArgsUsage: "PATH",
				Action:    withImage(statPath),
			},
			{
				Name:      "pack",
				Usage:     "Write a compressed copy of the image",
				ArgsUsage: "OUTPUT_FILE",
				Action:    packImage,
			},
			{
				Name:      "unpack",
				Usage:     "Replace the image with one restored from a compressed copy",
				ArgsUsage: "INPUT_FILE",
				Action:    unpackImage,
			},
			{
				Name:   "fsck",
				Usage:  "Check the free counts of an image against what's reachable",
				Action: withImage(checkImage),
			},
		},
	}
}
