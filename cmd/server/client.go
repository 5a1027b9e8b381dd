package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"document-gateway/internal/client"
	"document-gateway/internal/domain"
	"document-gateway/internal/rest"
	"document-gateway/internal/rpc"
	"document-gateway/internal/store"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	grpcAddr  string
	token     string

	repo   string
	branch string
	path   string

	inputFile     string
	message       string
	parentVersion int64
	version       int64
	limit         int
	beforeVersion int64
	strategy      string
	localFile     string
	remoteFile    string
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func keyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&repo, "repo", "", "repository")
	cmd.Flags().StringVar(&branch, "branch", "main", "branch")
	cmd.Flags().StringVar(&path, "path", "", "document path")
}

func key() domain.IdentityKey {
	return domain.IdentityKey{Repo: repo, Branch: branch, Path: path}
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a new document version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := readInput(inputFile)
		if err != nil {
			return err
		}
		res, err := client.New(serverURL, token).WriteDiff(cmd.Context(), rest.WriteDiffRequest{
			Repo: repo, Branch: branch, Path: path,
			Diff:          blob,
			Message:       message,
			ParentVersion: parentVersion,
		})
		if err != nil {
			return err
		}
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if res.Conflict != nil {
			return fmt.Errorf("version conflict: current version is %d", res.Conflict.CurrentVersion)
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the current or a pinned document version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := client.New(serverURL, token).ReadSnapshot(cmd.Context(), key(), version)
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List document versions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := client.New(serverURL, token).GetHistory(cmd.Context(), key(), store.HistoryQuery{
			Limit:         limit,
			BeforeVersion: beforeVersion,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, page)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve two conflicting blobs with a strategy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := os.ReadFile(localFile)
		if err != nil {
			return err
		}
		remote, err := os.ReadFile(remoteFile)
		if err != nil {
			return err
		}
		res, err := client.New(serverURL, token).ResolveConflict(cmd.Context(), rest.ResolveRequest{
			Repo: repo, Branch: branch, Path: path,
			Strategy: strategy,
			Local:    local,
			Remote:   remote,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream changes over gRPC until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := rpc.NewClient(grpcAddr, token)
		if err != nil {
			return err
		}
		defer c.Close()

		req := &rpc.SubscribeRequest{Repo: repo, Branch: branch, FromVersion: version}
		if path != "" {
			req.Paths = []string{path}
		}
		stream, err := c.SubscribeChanges(cmd.Context(), req)
		if err != nil {
			return err
		}
		for {
			rec, err := stream.Recv()
			if err != nil {
				if cmd.Context().Err() != nil {
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s v%d by %s\n",
				rec.Timestamp.Format(time.RFC3339), rec.Kind, rec.Key, rec.Version, rec.Author)
		}
	},
}

func init() {
	for _, cmd := range []*cobra.Command{writeCmd, readCmd, historyCmd, resolveCmd, watchCmd} {
		cmd.Flags().StringVar(&token, "token", os.Getenv("GATEWAY_TOKEN"), "bearer token (default $GATEWAY_TOKEN)")
		keyFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{writeCmd, readCmd, historyCmd, resolveCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:51051", "REST base URL")
	}
	for _, cmd := range []*cobra.Command{writeCmd, readCmd, historyCmd, watchCmd} {
		cmd.MarkFlagRequired("repo")
	}
	watchCmd.Flags().StringVar(&grpcAddr, "grpc", "localhost:50051", "gRPC address")
	watchCmd.Flags().Int64Var(&version, "from-version", 0, "only report versions after this one")

	writeCmd.Flags().StringVarP(&inputFile, "file", "f", "-", "blob to write, - for stdin")
	writeCmd.Flags().StringVarP(&message, "message", "m", "", "change message")
	writeCmd.Flags().Int64Var(&parentVersion, "parent", 0, "version this write is based on, 0 to create")
	writeCmd.MarkFlagRequired("path")

	readCmd.Flags().Int64Var(&version, "version", 0, "pinned version, 0 for current")
	readCmd.MarkFlagRequired("path")

	historyCmd.Flags().IntVar(&limit, "limit", 0, "page size")
	historyCmd.Flags().Int64Var(&beforeVersion, "before", 0, "only versions below this one")
	historyCmd.MarkFlagRequired("path")

	resolveCmd.Flags().StringVar(&strategy, "strategy", "ours", "ours or theirs")
	resolveCmd.Flags().StringVar(&localFile, "local", "", "local blob file")
	resolveCmd.Flags().StringVar(&remoteFile, "remote", "", "remote blob file")
	resolveCmd.MarkFlagRequired("local")
	resolveCmd.MarkFlagRequired("remote")
}

