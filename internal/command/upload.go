package command

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/media"
)

// NewUploadCmd creates the upload command.
func NewUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its public URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			name, _ := cmd.Flags().GetString("bucket")
			bucket, err := media.ParseBucket(name)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			url, err := uploadPath(cmd, ctx, args[0], bucket)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, map[string]string{"url": url, "bucket": string(bucket)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().StringP("bucket", "b", string(media.BucketChatMedia), "avatars, chat-media or signals")
	return cmd
}
