// cmd/play/main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/engine"
	"github.com/Corphon/GamebookRuntime/internal/loader"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

func main() {
	var (
		showTitle = flag.Bool("title", true, "show the title page before the start page")
		baseURL   = flag.String("base", "", "base URL for relative story URLs")
		timeout   = flag.Duration("timeout", 30*time.Second, "story fetch timeout")
		logFile   = flag.String("log", "", "append engine logs to this file")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: play [flags] <story.json | URL>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	// .env 中的 BASE_URL / DISABLE_URL_OPTIONS 同样生效
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *baseURL == "" {
		*baseURL = cfg.BaseURL
	}

	logger := utils.GetLogger()
	logger.Enable(false)
	if *logFile != "" {
		if err := utils.InitLogger(*logFile); err != nil {
			log.Fatalf("初始化日志失败: %v", err)
		}
		logger.Enable(true)
		logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	}

	book, err := loadBook(flag.Arg(0), cfg, *baseURL, *timeout)
	if err != nil {
		log.Fatalf("加载故事失败: %v", err)
	}

	term := newTerminal(os.Stdout)
	story := engine.NewStory(term, engine.WithLogger(logger))
	if err := story.Start(book, engine.StartOptions{ShowTitlePage: *showTitle}); err != nil {
		log.Fatalf("启动故事失败: %v", err)
	}

	play(story, term, os.Stdin, *showTitle)
}

func loadBook(arg string, cfg *config.Config, baseURL string, timeout time.Duration) (*models.Book, error) {
	opts := []loader.Option{
		loader.WithDisableURLOptions(cfg.DisableURLOptions),
		loader.WithBaseURL(baseURL),
	}

	var input any = arg
	if data, err := os.ReadFile(arg); err == nil {
		input = data
	}

	l, err := loader.New(input, opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Book(ctx)
}

// play reads commands until the input ends or the reader quits.
func play(story *engine.Story, term *terminal, in io.Reader, showTitle bool) {
	scanner := bufio.NewScanner(in)
	term.prompt(story)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			term.prompt(story)
			continue
		}

		// 只有命令词不区分大小写，页面 id 保持原样
		var err error
		switch strings.ToLower(fields[0]) {
		case "q", "quit":
			return
		case "c", "continue":
			err = story.Continue()
		case "n", "next":
			err = story.FollowNextPage()
		case "r", "restart":
			page := ""
			if len(fields) > 1 {
				page = fields[1]
			}
			err = story.Restart(page, showTitle && page == "", story.Book().Cover)
		case "flags":
			fmt.Fprintf(term.out, "flags: %s\n", strings.Join(story.Flags().Active(), ", "))
		case "look":
			if view := story.View(); view != nil {
				term.RenderPage(*view)
			}
		case "help", "?":
			term.help()
		default:
			err = act(story, term, fields)
		}
		if err != nil {
			fmt.Fprintf(term.out, "! %v\n", err)
		}
		term.prompt(story)
	}
}

// act runs "verb [noun]". The title page takes any input as its start action.
func act(story *engine.Story, term *terminal, fields []string) error {
	if view := story.View(); view != nil && view.Title != nil {
		_, err := story.Trigger(engine.TitleStartVerb, engine.TitleStartNoun)
		return err
	}

	verb, noun := term.verbID(story.View(), fields[0]), ""
	if len(fields) > 1 {
		noun = term.nounID(story.View(), strings.Join(fields[1:], " "))
	}
	if noun == "" {
		nouns := story.NounsForVerb(verb)
		if len(nouns) != 1 {
			fmt.Fprintf(term.out, "%s what? %s\n", fields[0], strings.Join(term.labels(story.View(), nouns), ", "))
			return nil
		}
		noun = nouns[0]
	}

	outcome, err := story.Trigger(verb, noun)
	if err != nil {
		return err
	}
	if outcome == nil {
		fmt.Fprintln(term.out, "Nothing happens.")
	}
	return nil
}
