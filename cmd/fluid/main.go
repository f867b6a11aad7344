package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/log"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"

	"github.com/fluidtorrent/fluid/internal/jsonutil"
	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/metainfo"
	"github.com/fluidtorrent/fluid/internal/piecetracker"
	"github.com/fluidtorrent/fluid/internal/seeder"
	"github.com/fluidtorrent/fluid/internal/storage"
	"github.com/fluidtorrent/fluid/internal/storage/filestorage"
	"github.com/fluidtorrent/fluid/torrent"
)

const defaultConfig = "~/fluid/config.yaml"

var cfg *torrent.Config

var clog = logger.New("cli")

func main() {
	app := cli.NewApp()
	app.Name = "fluid"
	app.Usage = "Download files from BitTorrent peers"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: defaultConfig,
			Usage: "read config from `FILE`",
		},
		cli.StringFlag{
			Name:  "data-dir, w",
			Usage: "save downloaded files under `DIR`",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored output",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download the content of a torrent file",
			ArgsUsage: "<torrent file>",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "peer, p",
					Usage: "connect to peer at `IP:PORT`, can be given multiple times; trackers are asked if not given",
				},
				cli.DurationFlag{
					Name:  "interval",
					Value: 5 * time.Second,
					Usage: "print progress at every `DURATION`",
				},
			},
			Action: handleDownload,
		},
		{
			Name:      "seed",
			Usage:     "serve the pieces of a downloaded torrent to other peers",
			ArgsUsage: "<torrent file>",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Value: "0.0.0.0:6881",
					Usage: "listen on `ADDR`",
				},
			},
			Action: handleSeed,
		},
		{
			Name:      "peers",
			Usage:     "ask the trackers of a torrent for peers",
			ArgsUsage: "<torrent file>",
			Action:    handlePeers,
		},
		{
			Name:      "create",
			Usage:     "create a torrent file",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "write torrent to `FILE`, defaults to <file>.torrent",
				},
				cli.StringSliceFlag{
					Name:  "tracker, t",
					Usage: "announce `URL`, can be given multiple times",
				},
				cli.UintFlag{
					Name:  "piece-length",
					Value: 256 << 10,
					Usage: "piece length in `BYTES`",
				},
			},
			Action: handleCreate,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	if c.GlobalBool("debug") {
		logger.SetLevel(log.DEBUG)
	}
	if c.GlobalBool("no-color") {
		jsonutil.DisableColor()
	}
	var err error
	cfg, err = torrent.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if dir := c.GlobalString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	return err
}

func readMetadata(c *cli.Context) (*torrent.Metadata, error) {
	path := c.Args().First()
	if path == "" {
		return nil, errors.New("torrent file is required")
	}
	return torrent.MetadataFromFile(path, cfg.DataDir)
}

func handleDownload(c *cli.Context) error {
	meta, err := readMetadata(c)
	if err != nil {
		return err
	}
	reg, err := torrent.NewRegistry(*cfg)
	if err != nil {
		return err
	}
	defer reg.Close()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	var peers []torrent.Peer
	for _, s := range c.StringSlice("peer") {
		pe, perr := torrent.ParsePeer(s)
		if perr != nil {
			return perr
		}
		peers = append(peers, pe)
	}
	if len(peers) == 0 {
		peers, err = findPeers(context.Background(), reg, meta, sigC)
		if err != nil {
			return err
		}
	}

	id, err := reg.AddTorrent(meta, peers)
	if err != nil {
		return err
	}
	t, err := reg.Get(id)
	if err != nil {
		return err
	}
	if err = t.Start(); err != nil {
		return err
	}

	doneC := make(chan torrent.Status, 1)
	go func() { doneC <- t.Wait() }()

	ticker := time.NewTicker(c.Duration("interval"))
	defer ticker.Stop()
	var status torrent.Status
loop:
	for {
		select {
		case status = <-doneC:
			break loop
		case <-ticker.C:
			s := t.Stats()
			clog.Infof("%s: %d/%d pieces, %d peers, %d KiB/s",
				s.Status, s.Pieces.Completed, s.Pieces.Total, s.Peers.Connected, s.DownloadSpeed/1024)
		case <-sigC:
			clog.Info("Stopping download")
			if err = t.Stop(); err != nil && !errors.Is(err, torrent.ErrInvalidTransition) {
				return err
			}
		}
	}

	b, err := jsonutil.MarshalPretty(t.Stats())
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if status != torrent.Completed {
		return cli.NewExitError("download is not complete: "+status.String(), 1)
	}
	return nil
}

// findPeers asks the trackers for peers. A signal received meanwhile cancels the announce.
func findPeers(ctx context.Context, reg *torrent.Registry, meta *torrent.Metadata, sigC <-chan os.Signal) ([]torrent.Peer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	doneC := make(chan struct{})
	exitC := make(chan struct{})
	go func() {
		defer close(exitC)
		select {
		case <-sigC:
			cancel()
		case <-doneC:
		}
	}()
	peers, err := reg.FindPeers(ctx, meta)
	close(doneC)
	<-exitC
	return peers, err
}

func handleSeed(c *cli.Context) error {
	meta, err := readMetadata(c)
	if err != nil {
		return err
	}
	if _, err = os.Stat(meta.FilePath); err != nil {
		return err
	}
	fs, err := filestorage.New(filepath.Dir(meta.FilePath))
	if err != nil {
		return err
	}
	f, _, err := fs.Open(filepath.Base(meta.FilePath), meta.TotalSize)
	if err != nil {
		return err
	}
	data := storage.NewPieces(f, meta.PieceLength, meta.TotalSize)
	defer data.Close()

	pieces := piecetracker.New(meta.PieceHashes, meta.PieceLength, meta.TotalSize)
	for i := uint32(0); i < meta.NumPieces(); i++ {
		b, rerr := data.ReadPiece(i)
		if rerr != nil {
			return rerr
		}
		if pieces.Validate(i, b) {
			pieces.MarkComplete(i)
		}
	}
	completed := pieces.Completed()
	clog.Infof("%d of %d pieces are complete", completed.Count(), meta.NumPieces())

	// Seeding does not need the resume database.
	rcfg := *cfg
	rcfg.Database = ""
	reg, err := torrent.NewRegistry(rcfg)
	if err != nil {
		return err
	}
	defer reg.Close()

	l, err := net.Listen("tcp4", c.String("listen"))
	if err != nil {
		return err
	}
	s := seeder.New(l, seeder.Config{
		Protocol:         cfg.Protocol,
		HandshakeTimeout: cfg.HandshakeTimeout,
		InfoHash:         meta.ContentID,
		PeerID:           reg.PeerID(),
	}, pieces, data, logger.New("seeder"))
	clog.Infof("Seeding %s on %s", meta.Name, s.Addr())
	go s.Run()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)
	<-sigC
	s.Close()
	return nil
}

func handlePeers(c *cli.Context) error {
	meta, err := readMetadata(c)
	if err != nil {
		return err
	}
	rcfg := *cfg
	rcfg.Database = ""
	reg, err := torrent.NewRegistry(rcfg)
	if err != nil {
		return err
	}
	defer reg.Close()
	peers, err := reg.FindPeers(context.Background(), meta)
	if err != nil {
		return err
	}
	for _, pe := range peers {
		fmt.Println(pe.String())
	}
	return nil
}

func handleCreate(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("file is required")
	}
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	info, err := metainfo.NewInfoBytes(filepath.Base(path), f, fi.Size(), uint32(c.Uint("piece-length")))
	if err != nil {
		return err
	}
	b, err := metainfo.NewBytes(info, c.StringSlice("tracker"), c.App.Name+"/"+c.App.Version)
	if err != nil {
		return err
	}
	out := c.String("out")
	if out == "" {
		out = path + ".torrent"
	}
	if err = os.WriteFile(out, b, 0640); err != nil {
		return err
	}
	mi, err := torrent.MetadataFromFile(out, cfg.DataDir)
	if err != nil {
		return err
	}
	fields, err := jsonutil.MarshalFields(struct {
		ID        string
		Name      string
		Size      int64
		NumPieces uint32
		Trackers  []string
	}{mi.ID(), mi.Name, mi.TotalSize, mi.NumPieces(), mi.Trackers})
	if err != nil {
		return err
	}
	fmt.Print(string(fields))
	return nil
}
