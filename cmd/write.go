// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/streamsink/internal/csvwrite"
	"github.com/cardinalhq/streamsink/internal/filereader"
	"github.com/cardinalhq/streamsink/internal/pipeline"
	"github.com/cardinalhq/streamsink/internal/sinks"
	"github.com/cardinalhq/streamsink/internal/writeable"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Read a headered CSV file and write it through the sink",
	RunE:  runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)

	writeCmd.Flags().String("input", "", "input CSV file (headered)")
	writeCmd.Flags().String("output", "", "output path or cloud URL (s3://, gs://, az://)")
	writeCmd.Flags().Int("lanes", 4, "number of parallel encoder lanes")
	writeCmd.Flags().Int("batch-size", 1000, "rows per morsel")
	writeCmd.Flags().Bool("no-header", false, "omit the header record")
	writeCmd.Flags().Bool("bom", false, "write a UTF-8 byte order mark")
	writeCmd.Flags().String("separator", ",", "field separator (single byte)")
	writeCmd.Flags().String("quote-style", "necessary", "necessary|always|non_numeric|never")
	writeCmd.Flags().String("null", "", "literal used for null values")
	writeCmd.Flags().Bool("maintain-order", true, "preserve input row order in the output")
	writeCmd.Flags().String("sync-on-close", "none", "none|data|all (local outputs only)")

	_ = writeCmd.MarkFlagRequired("input")
	_ = writeCmd.MarkFlagRequired("output")
}

// cloudOptionsFromEnv builds cloud credentials/endpoints from STREAMSINK_*
// environment variables, leaving SDK defaults in place for anything unset.
func cloudOptionsFromEnv() *writeable.CloudOptions {
	v := viper.New()
	v.SetEnvPrefix("streamsink")
	v.AutomaticEnv()

	return &writeable.CloudOptions{
		Region:              v.GetString("aws_region"),
		Endpoint:            v.GetString("endpoint"),
		AccessKeyID:         v.GetString("access_key_id"),
		SecretAccessKey:     v.GetString("secret_access_key"),
		SessionToken:        v.GetString("session_token"),
		PathStyle:           v.GetBool("s3_path_style"),
		AzureStorageAccount: v.GetString("azure_storage_account"),
		GCSCredentialsFile:  v.GetString("gcs_credentials"),
	}
}

func runWrite(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	input, _ := flags.GetString("input")
	output, _ := flags.GetString("output")
	lanes, _ := flags.GetInt("lanes")
	batchSize, _ := flags.GetInt("batch-size")
	noHeader, _ := flags.GetBool("no-header")
	bom, _ := flags.GetBool("bom")
	separator, _ := flags.GetString("separator")
	quoteStyle, _ := flags.GetString("quote-style")
	nullLit, _ := flags.GetString("null")
	maintainOrder, _ := flags.GetBool("maintain-order")
	syncOnClose, _ := flags.GetString("sync-on-close")

	if lanes < 1 {
		return fmt.Errorf("lanes must be at least 1")
	}
	if len(separator) != 1 {
		return fmt.Errorf("separator must be a single byte, got %q", separator)
	}
	qs, err := csvwrite.ParseQuoteStyle(quoteStyle)
	if err != nil {
		return err
	}
	syncMode, err := writeable.ParseSyncMode(syncOnClose)
	if err != nil {
		return err
	}

	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	reader, err := filereader.NewCSVFrameReader(in, nil, batchSize)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	serialize := csvwrite.DefaultSerializeOptions()
	serialize.Separator = separator[0]
	serialize.QuoteStyle = qs
	serialize.Null = nullLit

	sink := &sinks.CSVSink{
		Path:   output,
		Schema: reader.Schema(),
		Options: sinks.SinkOptions{
			MaintainOrder: maintainOrder,
			SyncOnClose:   syncMode,
		},
		WriteOptions: sinks.WriteOptions{
			IncludeHeader: !noHeader,
			IncludeBOM:    bom,
			Serialize:     serialize,
		},
		CloudOptions: cloudOptionsFromEnv(),
	}

	group, ctx := errgroup.WithContext(cmd.Context())
	state := &pipeline.ExecState{Logger: slog.Default()}

	port, senders := pipeline.NewSinkPort(lanes, 1)
	sink.SpawnSink(ctx, lanes, port, state, group)

	// Producer: deal frames round-robin across the lanes with a bounded
	// number of morsels in flight, enforced by consume-token credits.
	group.Go(func() error {
		defer func() {
			for _, tx := range senders {
				close(tx)
			}
		}()

		credits := make(chan struct{}, 2*lanes)
		for i := 0; i < cap(credits); i++ {
			credits <- struct{}{}
		}

		var seq uint64
		lane := 0
		for {
			frame, err := reader.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}

			select {
			case <-credits:
			case <-ctx.Done():
				return ctx.Err()
			}

			morsel := pipeline.Morsel{
				Frame: frame,
				Seq:   seq,
				Token: pipeline.NewConsumeToken(func() { credits <- struct{}{} }),
			}
			select {
			case senders[lane] <- morsel:
			case <-ctx.Done():
				return ctx.Err()
			}
			seq++
			lane = (lane + 1) % lanes
		}
	})

	if err := group.Wait(); err != nil {
		return err
	}
	slog.Info("wrote output", slog.String("path", output))
	return nil
}
