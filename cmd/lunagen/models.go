package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/BaSui01/lunagen/image"
)

// runModels 列出已配置的供应商、默认模型及单次调用上限
func runModels(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "Path to config file")
	envFile := fs.String("env-file", "", "Path to .env file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*configPath, *envFile)
	if err != nil {
		return err
	}
	defer a.close()

	providers := a.models.Providers()
	if len(providers) == 0 {
		fmt.Fprintln(stdout, "no image providers configured")
		return nil
	}

	fmt.Fprintf(stdout, "default: %s\n\n", a.cfg.Providers.Default)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tIMAGES/CALL\tTEXT2IMAGE\tIMAGE2IMAGE")
	for _, p := range providers {
		m, err := a.models.Model(p)
		if err != nil {
			return err
		}
		_, t2i := m.(image.Text2ImageModel)
		_, i2i := m.(image.Image2ImageModel)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Provider(), m.ModelID(), perCall(m.MaxImagesPerCall()), yesNo(t2i), yesNo(i2i))
	}
	return tw.Flush()
}

// perCall 与 image.PlanCalls 的解释一致：负数不设上限，0 视为 1
func perCall(n int) string {
	switch {
	case n < 0:
		return "unbounded"
	case n == 0:
		return "1"
	default:
		return fmt.Sprint(n)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
