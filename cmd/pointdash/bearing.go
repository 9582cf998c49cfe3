package main

import (
	"fmt"

	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/geodesy"
	"github.com/shaunagostinho/pointdash/internal/server"
	"github.com/spf13/cobra"
)

var (
	north float64
	units string
)

var bearingCmd = &cobra.Command{
	Use:   "bearing FROM TO",
	Short: "Print the distance and azimuth between two points",
	Long: `Computes what the overlay would show for a device at FROM pointing at TO.
Both points are "lat,lon" in decimal degrees.

A point with a negative latitude starts with "-" and would be read as a
flag. Put the flags first and separate the points with "--".`,
	Example: `  pointdash bearing 43.6426,-79.3871 43.6453,-79.3806 --north 45
  pointdash bearing --units imperial -- -33.8568,151.2153 -33.8523,151.2108`,
	Args: cobra.ExactArgs(2),
	RunE: runBearing,
}

func runBearing(cmd *cobra.Command, args []string) error {
	fromLat, fromLon, err := server.ParseLatLon(args[0])
	if err != nil {
		return fmt.Errorf("FROM: %w", err)
	}
	toLat, toLon, err := server.ParseLatLon(args[1])
	if err != nil {
		return fmt.Errorf("TO: %w", err)
	}
	u, err := geodesy.ParseUnits(units)
	if err != nil {
		return err
	}

	res := geodesy.NewCalculator(u).DistanceAndAzimuth(toLat, toLon, fromLat, fromLon, north)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "distance: %s\n", res.Distance)
	if res.Azimuth < 0 {
		fmt.Fprintln(out, "azimuth:  unknown")
		return nil
	}
	fmt.Fprintf(out, "azimuth:  %.1f° %s\n", res.Azimuth, compass.Cardinal(res.Azimuth))
	return nil
}
