package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmret/mielab/internal/config"
	"github.com/atmret/mielab/internal/export"
	"github.com/atmret/mielab/internal/lognormal"
	"github.com/atmret/mielab/internal/mie"
	"github.com/atmret/mielab/internal/retrieve"
	"github.com/atmret/mielab/internal/store"
	"github.com/atmret/mielab/internal/tui"
	"github.com/atmret/mielab/internal/viz"
)

var (
	dataDir    string
	n          float64
	rm         float64
	spread     float64
	wavenumber float64
	refReal    float64
	refImag    float64
	npts       int
	angles     int
	configFile string
	preset     string
	saveRun    bool
	svgPath    string
	diag       bool
	outPath    string
	maxIter    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mielab",
		Short: "Mie scattering for log-normal size distributions, with analytic derivatives",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mielab", "data directory")

	computeCmd := &cobra.Command{
		Use:   "compute",
		Short: "compute bulk coefficients and their parameter derivatives",
		RunE:  runCompute,
	}
	addScenarioFlags(computeCmd)
	computeCmd.Flags().BoolVar(&saveRun, "save", false, "persist the run")
	computeCmd.Flags().BoolVar(&diag, "diag", false, "show quadrature diagnostics")

	phaseCmd := &cobra.Command{
		Use:   "phase",
		Short: "compute and plot the averaged phase function",
		RunE:  runPhase,
	}
	addScenarioFlags(phaseCmd)
	phaseCmd.Flags().IntVar(&angles, "angles", 181, "number of scattering angles over 0..180 deg")
	phaseCmd.Flags().BoolVar(&saveRun, "save", false, "persist the run")
	phaseCmd.Flags().StringVar(&svgPath, "svg", "", "also write the phase function as SVG")

	distCmd := &cobra.Command{
		Use:   "dist",
		Short: "plot the size distribution",
		RunE:  runDist,
	}
	addScenarioFlags(distCmd)

	fitCmd := &cobra.Command{
		Use:   "fit [observations.csv]",
		Short: "retrieve distribution parameters from observed coefficients",
		Long: "Observations are CSV rows of wavenumber,bext,bsca. The scenario flags\n" +
			"seed the iteration and fix the refractive index.",
		Args: cobra.ExactArgs(1),
		RunE: runFit,
	}
	addScenarioFlags(fitCmd)
	fitCmd.Flags().IntVar(&maxIter, "max-iter", 50, "iteration cap")

	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "interactive parameter explorer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := scenario(cmd)
			if err != nil {
				return err
			}
			return tui.Run(cfg.Params())
		},
	}
	addScenarioFlags(exploreCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  runList,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a saved run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.New(dataDir).ExportJSON(args[0], outPath)
		},
	}
	exportCmd.Flags().StringVar(&outPath, "out", "run.json", "output path")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list scenario presets",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.ListPresets() {
				cfg := config.GetPreset(name)
				fmt.Printf("  %-8s Rm=%g S=%g m=%g%+gi\n", name, cfg.Rm, cfg.S, cfg.RefReal, cfg.RefImag)
			}
		},
	}

	rootCmd.AddCommand(computeCmd, phaseCmd, distCmd, fitCmd, exploreCmd, listCmd, exportCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&n, "n", config.DefaultN, "number density")
	cmd.Flags().Float64Var(&rm, "rm", config.DefaultRm, "median radius (microns)")
	cmd.Flags().Float64Var(&spread, "s", config.DefaultS, "geometric spread")
	cmd.Flags().Float64Var(&wavenumber, "k", config.DefaultWavenumber, "wavenumber (1/microns)")
	cmd.Flags().Float64Var(&refReal, "mre", config.DefaultRefReal, "refractive index, real part")
	cmd.Flags().Float64Var(&refImag, "mim", config.DefaultRefImag, "refractive index, imaginary part")
	cmd.Flags().IntVar(&npts, "npts", 0, "quadrature points (0 = automatic)")
	cmd.Flags().StringVar(&configFile, "config", "", "scenario file (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "scenario preset")
}

// scenario merges preset, config file and flags, in that order of
// increasing precedence; flags only win when explicitly set.
func scenario(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		*cfg = *p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		*cfg = *loaded
	}

	if cmd.Flags().Changed("n") {
		cfg.N = n
	}
	if cmd.Flags().Changed("rm") {
		cfg.Rm = rm
	}
	if cmd.Flags().Changed("s") {
		cfg.S = spread
	}
	if cmd.Flags().Changed("k") {
		cfg.Wavenumber = wavenumber
	}
	if cmd.Flags().Changed("mre") {
		cfg.RefReal = refReal
	}
	if cmd.Flags().Changed("mim") {
		cfg.RefImag = refImag
	}
	if cmd.Flags().Changed("npts") {
		cfg.Npts = npts
	}
	return cfg, nil
}

func runCompute(cmd *cobra.Command, args []string) error {
	cfg, err := scenario(cmd)
	if err != nil {
		return err
	}
	params := cfg.Params()

	eng := lognormal.NewEngine(mie.New())
	start := time.Now()
	c, err := eng.Average(params, lognormal.Options{Npts: cfg.Npts, Diagnostics: diag})
	if err != nil {
		return err
	}

	fmt.Print(viz.ParamsTable(params))
	fmt.Print(viz.CoefficientsTable(c))
	fmt.Print(viz.Warnings(c))
	fmt.Printf("computed in %v\n", time.Since(start))

	if saveRun {
		st := store.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		id, err := st.Save(params, c, nil)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", id)
	}
	return nil
}

func runPhase(cmd *cobra.Command, args []string) error {
	cfg, err := scenario(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("angles") && cfg.Angles > 0 {
		angles = cfg.Angles
	}
	if angles < 2 {
		return fmt.Errorf("need at least 2 angles, got %d", angles)
	}
	params := cfg.Params()

	deg := make([]float64, angles)
	mu := make([]float64, angles)
	for i := range deg {
		deg[i] = float64(i) * 180 / float64(angles-1)
		mu[i] = math.Cos(deg[i] * math.Pi / 180)
	}

	eng := lognormal.NewEngine(mie.New())
	c, err := eng.Average(params, lognormal.Options{Npts: cfg.Npts, Mu: mu})
	if err != nil {
		return err
	}

	fmt.Print(viz.ParamsTable(params))
	fmt.Print(viz.Warnings(c))
	fmt.Println(viz.PhasePlot(deg, c.Intensity.I1, 80, 14))

	if svgPath != "" {
		if err := export.WritePhaseSVG(svgPath, deg, c.Intensity.I1, c.Intensity.I2, 800, 450); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgPath)
	}

	if saveRun {
		st := store.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		id, err := st.Save(params, c, mu)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", id)
	}
	return nil
}

func runDist(cmd *cobra.Command, args []string) error {
	cfg, err := scenario(cmd)
	if err != nil {
		return err
	}
	params := cfg.Params()
	if err := params.Validate(); err != nil {
		return err
	}

	fmt.Print(viz.ParamsTable(params))
	fmt.Println(viz.DistributionPlot(params, 80, 12))
	return nil
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := scenario(cmd)
	if err != nil {
		return err
	}

	obs, err := readObservations(args[0])
	if err != nil {
		return err
	}

	eng := lognormal.NewEngine(mie.New())
	start := time.Now()
	res, err := retrieve.Fit(context.Background(), eng, cfg.Params(), obs, retrieve.Options{
		MaxIter: maxIter,
		Npts:    cfg.Npts,
	})
	if err != nil {
		return err
	}

	fmt.Printf("fitted in %v (%d iterations, rms misfit %.3e)\n", time.Since(start), res.Iterations, res.Residual)
	if !res.Converged {
		fmt.Println("warning: iteration cap reached before convergence")
	}
	fmt.Print(viz.ParamsTable(res.Params))
	return nil
}

func readObservations(path string) ([]retrieve.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	obs := make([]retrieve.Observation, 0, len(records))
	for i, rec := range records {
		vals := make([]float64, 3)
		parsed := true
		for j := range vals {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				// Tolerate a single header row.
				if i == 0 {
					parsed = false
					break
				}
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			vals[j] = v
		}
		if !parsed {
			continue
		}
		obs = append(obs, retrieve.Observation{Wavenumber: vals[0], Bext: vals[1], Bsca: vals[2]})
	}
	return obs, nil
}

func runList(cmd *cobra.Command, args []string) error {
	runs, err := store.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tRM\tS\tK\tBEXT\tBSCA")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%.4g\t%.4g\t%.4g\t%.4e\t%.4e\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Rm,
			run.S,
			run.Wavenumber,
			run.Bext,
			run.Bsca,
		)
	}
	return w.Flush()
}
