package commands

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ledgerwatch/namedb/internal/api"
	"github.com/ledgerwatch/namedb/internal/cache"
	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/query"
	"github.com/ledgerwatch/namedb/internal/replay"
	"github.com/ledgerwatch/namedb/internal/store"
)

func serveCommand() *cobra.Command {
	var addr string
	var rps float64
	var burst int

	cmd := &cobra.Command{
		Use:   "serve <path>",
		Short: "serve the read API and Prometheus metrics over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(args[0], log)
			if err != nil {
				return err
			}
			defer s.Close()

			cat := opcode.New()
			j := history.New(cat)
			c, err := cache.New(cacheEntries, int(cachePageBytes))
			if err != nil {
				return err
			}
			q := query.New(s.DB, c, j)
			r := replay.New(s.DB, j)

			srv := api.NewServer(q, r, log, rate.Limit(rps), burst)

			reg := prometheus.NewRegistry()
			reg.MustRegister(prometheus.NewGoCollector())

			router := gin.New()
			router.Use(gin.Recovery())
			srv.Routes(router)
			router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

			log.Info("serving", "addr", addr, "db", args[0])
			return http.ListenAndServe(addr, router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().Float64Var(&rps, "rate-limit", 20, "requests/sec allowed per client IP")
	cmd.Flags().IntVar(&burst, "rate-burst", 40, "burst size for the per-IP rate limiter")
	return cmd
}
