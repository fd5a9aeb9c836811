package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/artifact"
	"github.com/harun/agentkit/pkg/session"
	"github.com/spf13/cobra"
)

var (
	artUser     string
	artSession  string
	artMIME     string
	artVersion  int
	artOutput   string
	artFromFile string
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Save and load versioned artifacts",
	Long: `Save and load versioned artifacts. Filenames starting with "user:" are
shared by every session of the user; other files belong to one session.`,
}

var artifactSaveCmd = &cobra.Command{
	Use:   "save <filename> [text]",
	Short: "Save a new version of an artifact",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		part, err := artifactPart(args)
		if err != nil {
			return err
		}
		return withArtifacts(cmd, func(ctx context.Context, svc artifact.Service, appName string) error {
			version, err := svc.Save(ctx, artifactKey(appName, args[0]), part)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s version %d\n", args[0], version)
			return nil
		})
	},
}

var artifactLoadCmd = &cobra.Command{
	Use:   "load <filename>",
	Short: "Load an artifact (latest version unless --version is set)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArtifacts(cmd, func(ctx context.Context, svc artifact.Service, appName string) error {
			var version *int
			if cmd.Flags().Changed("version") {
				version = &artVersion
			}
			part, err := svc.Load(ctx, artifactKey(appName, args[0]), version)
			if err != nil {
				return err
			}

			data := []byte(part.Text)
			if part.InlineData != nil {
				data = part.InlineData.Data
			}
			if artOutput != "" {
				if err := os.WriteFile(artOutput, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", artOutput, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), artOutput)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		})
	},
}

var artifactVersionsCmd = &cobra.Command{
	Use:   "versions [filename]",
	Short: "List the versions of an artifact, or every artifact of the session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArtifacts(cmd, func(ctx context.Context, svc artifact.Service, appName string) error {
			if len(args) == 0 {
				keys, err := svc.ListKeys(ctx, appName, artUser, artSession)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), keys)
			}
			versions, err := svc.ListVersions(ctx, artifactKey(appName, args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), versions)
		})
	},
}

func init() {
	artifactCmd.PersistentFlags().StringVar(&artUser, "user", session.DefaultUserID, "user ID")
	artifactCmd.PersistentFlags().StringVar(&artSession, "session", defaultChatSession, "session ID")
	artifactSaveCmd.Flags().StringVar(&artMIME, "mime-type", "", "MIME type (default guessed from the file name)")
	artifactSaveCmd.Flags().StringVar(&artFromFile, "file", "", "read the content from this file")
	artifactLoadCmd.Flags().IntVar(&artVersion, "version", 0, "version to load")
	artifactLoadCmd.Flags().StringVarP(&artOutput, "output", "o", "", "write the content to this file")

	artifactCmd.AddCommand(artifactSaveCmd, artifactLoadCmd, artifactVersionsCmd)
	rootCmd.AddCommand(artifactCmd)
}

func artifactKey(appName, filename string) artifact.Key {
	return artifact.Key{AppName: appName, UserID: artUser, SessionID: artSession, Filename: filename}
}

func artifactPart(args []string) (*session.Part, error) {
	switch {
	case artFromFile != "":
		data, err := os.ReadFile(artFromFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", artFromFile, err)
		}
		mimeType := artMIME
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(artFromFile))
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return artifact.NewBytesPart(data, mimeType), nil
	case len(args) == 2:
		if artMIME != "" && artMIME != "text/plain" {
			return artifact.NewBytesPart([]byte(args[1]), artMIME), nil
		}
		return &session.Part{Text: args[1]}, nil
	default:
		return nil, fmt.Errorf("content is required: pass it as an argument or with --file")
	}
}

func withArtifacts(cmd *cobra.Command, fn func(ctx context.Context, svc artifact.Service, appName string) error) error {
	return withRuntime(cmd, runOptions{stderrLogs: true}, func(ctx context.Context, rt *runtime.Runtime) error {
		svc, err := rt.Artifacts(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, svc, rt.Config().Session.AppName)
	})
}
