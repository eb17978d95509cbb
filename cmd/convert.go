package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/eviltransform-go/internal/coord"
	"github.com/wegman-software/eviltransform-go/internal/ewkb"
	"github.com/wegman-software/eviltransform-go/internal/logger"
	"github.com/wegman-software/eviltransform-go/internal/proj"
)

var (
	convertFrom  string
	convertTo    string
	convertEWKB  bool
	convertExact bool
)

var convertCmd = &cobra.Command{
	Use:   "convert LAT LNG",
	Short: "Convert a single point",
	Long: `Convert one coordinate pair and print "lat lng".

Points outside the China bounding box are returned unchanged. Unlike the
library conversions, which accept any number, the command rejects latitudes
outside [-90, 90] and longitudes outside [-180, 180] as input mistakes. Use
-- before negative coordinates so they are not read as flags.`,
	Example: `  eviltransform convert --from wgs84 --to gcj02 39.906217 116.3912757
  eviltransform convert --from bd09 --to wgs84 --exact --ewkb 39.915 116.404`,
	Args: cobra.ExactArgs(2),
	Run:  runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertFrom, "from", "wgs84", "Source system (wgs84, gcj02, bd09)")
	convertCmd.Flags().StringVar(&convertTo, "to", "gcj02", "Target system (wgs84, gcj02, bd09)")
	convertCmd.Flags().BoolVar(&convertEWKB, "ewkb", false, "Also print the result as hex EWKB")
	convertCmd.Flags().BoolVar(&convertExact, "exact", false, "Use the iterative inverse when converting to WGS84")
}

func runConvert(cmd *cobra.Command, args []string) {
	cfg.Exact = convertExact

	lat, lng, err := parseLatLng(args[0], args[1])
	if err != nil {
		exitWithError("invalid coordinate", err)
	}
	from, err := coord.ParseSystem(convertFrom)
	if err != nil {
		exitWithError("invalid --from", err)
	}
	to, err := coord.ParseSystem(convertTo)
	if err != nil {
		exitWithError("invalid --to", err)
	}

	outLat, outLng := convertPoint(from, to, lat, lng, cfg.Exact)
	logger.Get().Debug("Converted point",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Bool("exact", cfg.Exact),
		zap.Bool("out_of_china", coord.OutOfChina(lat, lng)),
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", formatCoord(outLat), formatCoord(outLng))
	if convertEWKB {
		buf := ewkb.NewEncoderWithSRID(32, proj.SRIDFor(to)).EncodePoint(outLng, outLat)
		fmt.Fprintln(out, strings.ToUpper(hex.EncodeToString(buf)))
	}
}

// convertPoint dispatches between the closed-form conversions and, when
// exact is set, the iterative inverses
func convertPoint(from, to coord.System, lat, lng float64, exact bool) (float64, float64) {
	kind, ok := coord.KindBetween(from, to)
	if !ok {
		return lat, lng
	}
	if exact {
		switch kind {
		case coord.KindGCJ2WGS:
			return coord.GCJ2WGSExact(lat, lng)
		case coord.KindBD2WGS:
			return coord.BD2WGSExact(lat, lng)
		}
	}
	return coord.Apply(kind, lat, lng)
}

func parseLatLng(latStr, lngStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude %q: %w", latStr, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude %q: %w", lngStr, err)
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("longitude %v out of range", lng)
	}
	return lat, lng, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
