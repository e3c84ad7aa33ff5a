package predict

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polybot/yolo-service/internal/app"
	"github.com/polybot/yolo-service/internal/observability"
	"github.com/polybot/yolo-service/internal/prediction"
)

// Command creates the predict command, a single pipeline run that prints the
// result as JSON.
func Command(ctx *app.Context) *cobra.Command {
	var req prediction.Request

	cmd := &cobra.Command{
		Use:   "predict [image_name]",
		Short: "Run one prediction for an image in the object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ImageName = args[0]

			m, err := observability.NewMetrics()
			if err != nil {
				return err
			}
			pipeline, err := app.NewPipeline(cmd.Context(), ctx.Settings, ctx.Log("pipeline"), m)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			result, err := pipeline.Service.Process(cmd.Context(), req)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("error encoding result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.BucketName, "bucket", "b", "", "Bucket holding the image")
	cmd.Flags().StringVarP(&req.RegionName, "region", "r", "", "Region of the bucket")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}
