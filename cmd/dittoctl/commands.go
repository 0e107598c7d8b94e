package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dittoclient/pkg/config"
	"github.com/marmos91/dittoclient/pkg/fsclient"
	"github.com/spf13/cobra"
)

func (a *app) lsCmd() *cobra.Command {
	var recursive, long bool

	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List a remote directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}

			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for fi, err := range conn.ListEntries(cmd.Context(), path, recursive) {
				if err != nil {
					_ = tw.Flush()
					return err
				}
				if long {
					printLong(tw, fi)
				} else {
					_, _ = fmt.Fprintln(tw, displayPath(fi, recursive))
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List subdirectories recursively")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show permissions, owner, size and modification time")
	return cmd
}

func displayPath(fi fsclient.FileStatus, recursive bool) string {
	name := fi.Name
	if recursive {
		name = fi.Path
	}
	if fi.IsDir {
		name += "/"
	}
	return name
}

func printLong(w io.Writer, fi fsclient.FileStatus) {
	mode := fi.Permission.String()
	if fi.IsDir {
		mode = "d" + mode[1:]
	}
	modTime := "-"
	if !fi.ModTime.IsZero() {
		modTime = fi.ModTime.Local().Format(time.DateTime)
	}
	owner := fi.Owner
	if owner == "" {
		owner = "-"
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", mode, owner, fi.Size, modTime, displayPath(fi, true))
}

func (a *app) putCmd() *cobra.Command {
	var exclusive bool

	cmd := &cobra.Command{
		Use:   "put LOCAL REMOTE",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			var opts []fsclient.TransferOption
			if exclusive {
				opts = append(opts, fsclient.WithPolicy(fsclient.Exclusive))
			}
			if a.progress {
				var size int64 = -1
				if info, err := a.localFs.Stat(args[0]); err == nil {
					size = info.Size()
				}
				bar := newProgressBar(cmd.ErrOrStderr(), size, "upload")
				defer finishProgress(bar)
				opts = append(opts, fsclient.WithProgress(bar))
			}
			return conn.Upload(cmd.Context(), args[0], args[1], opts...)
		},
	}

	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "Fail if the remote file exists")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var exclusive bool

	cmd := &cobra.Command{
		Use:   "get REMOTE LOCAL",
		Short: "Download a remote file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			var opts []fsclient.TransferOption
			if exclusive {
				opts = append(opts, fsclient.WithPolicy(fsclient.Exclusive))
			}
			if a.progress {
				var size int64 = -1
				if fi, err := conn.Stat(cmd.Context(), args[0]); err == nil {
					size = fi.Size
				}
				bar := newProgressBar(cmd.ErrOrStderr(), size, "download")
				defer finishProgress(bar)
				opts = append(opts, fsclient.WithProgress(bar))
			}
			return conn.Download(cmd.Context(), args[0], args[1], opts...)
		},
	}

	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "Fail if the local file exists")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm PATH...",
		Short: "Delete remote files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			for _, path := range args {
				if err := conn.Delete(cmd.Context(), path, recursive); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Delete directories and their contents")
	return cmd
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH",
		Short: "Print a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			r, err := conn.OpenRead(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			_, err = io.Copy(cmd.OutOrStdout(), r)
			return err
		},
	}
}

func (a *app) writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write PATH",
		Short: "Write standard input to a remote file",
		Long:  "Write standard input to a remote file. The file is replaced only once the input ends.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			w, err := conn.OpenWrite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, cmd.InOrStdin()); err != nil {
				w.Abort()
				return err
			}
			return w.Close()
		},
	}
}

func (a *app) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PATH...",
		Short: "Create remote directories and their parents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			for _, path := range args {
				if err := conn.Mkdir(cmd.Context(), path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat PATH",
		Short: "Show the status of a remote entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(conn)

			fi, err := conn.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			kind := "file"
			if fi.IsDir {
				kind = "directory"
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
			_, _ = fmt.Fprintf(tw, "Path:\t%s\n", fi.Path)
			_, _ = fmt.Fprintf(tw, "Type:\t%s\n", kind)
			_, _ = fmt.Fprintf(tw, "Size:\t%d\n", fi.Size)
			_, _ = fmt.Fprintf(tw, "Permission:\t%s\n", fi.Permission)
			_, _ = fmt.Fprintf(tw, "Block size:\t%d\n", fi.BlockSize)
			_, _ = fmt.Fprintf(tw, "Owner:\t%s\n", fi.Owner)
			if !fi.ModTime.IsZero() {
				_, _ = fmt.Fprintf(tw, "Modified:\t%s\n", fi.ModTime.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if err := config.InitConfigToPath(path, force); err != nil {
				return &fsclient.Error{Kind: fsclient.KindConfiguration, Op: "init", Path: path, Err: err}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")
	return cmd
}
