package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iabetor/pivox/internal/app"
	"github.com/iabetor/pivox/internal/config"
	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/query"
)

// stringList 收集可重复的命令行参数。
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			os.Exit(runInit(os.Args[2:]))
		case "pack":
			os.Exit(runPack(os.Args[2:]))
		case "help", "-h", "--help":
			printUsage()
			return
		}
	}
	os.Exit(runSynth(os.Args[1:]))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pivox - 日语语音合成

用法:
  pivox [选项] -text テキスト -out out.wav    文本合成
  pivox [选项] -kana "コンニチワ'" -out out.wav  假名标记合成
  pivox [选项] -query-in q.json -out out.wav   从 AudioQuery 合成
  pivox [选项] -text テキスト -query-out q.json 只生成 AudioQuery
  pivox -metas | -devices | -version
  pivox init [-dir ~/.pivox]                   生成演示词典和模型
  pivox pack -params p.yaml -metas m.json -out m.vvm  打包模型

运行 pivox -h 或 pivox pack -h 查看全部选项。
`)
}

type synthFlags struct {
	configPath string
	text       string
	kana       string
	queryIn    string
	queryOut   string
	out        string
	style      uint
	dict       string
	mode       string
	threads    int
	models     stringList
	upspeak    bool
	metas      bool
	devices    bool
	version    bool
}

func runSynth(args []string) int {
	var f synthFlags
	fs := flag.NewFlagSet("pivox", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "configs/pivox.yaml", "配置文件路径")
	fs.StringVar(&f.text, "text", "", "要合成的日语文本")
	fs.StringVar(&f.kana, "kana", "", "要合成的假名标记")
	fs.StringVar(&f.queryIn, "query-in", "", "从 AudioQuery JSON 文件合成")
	fs.StringVar(&f.queryOut, "query-out", "", "把生成的 AudioQuery 写到文件")
	fs.StringVar(&f.out, "out", "", "输出 WAV 文件路径")
	fs.UintVar(&f.style, "style", 0, "风格 id")
	fs.StringVar(&f.dict, "dict", "", "词典目录，覆盖配置")
	fs.StringVar(&f.mode, "mode", "", "推理设备 auto/cpu/gpu，覆盖配置")
	fs.IntVar(&f.threads, "threads", -1, "CPU 推理线程数，覆盖配置")
	fs.Var(&f.models, "model", "要加载的 .vvm 模型，可重复")
	fs.BoolVar(&f.upspeak, "upspeak", true, "疑问句末尾上扬")
	fs.BoolVar(&f.metas, "metas", false, "输出已加载模型的说话人元数据")
	fs.BoolVar(&f.devices, "devices", false, "输出可用推理设备")
	fs.BoolVar(&f.version, "version", false, "输出版本号")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if f.version {
		fmt.Println(engine.Version)
		return 0
	}

	_ = godotenv.Load()

	cfg, err := loadConfig(f.configPath, flagSet(fs, "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}
	if !flagSet(fs, "upspeak") {
		f.upspeak = cfg.Synthesis.Upspeak()
	}
	if err := app.InitLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if f.devices {
		if _, err := ort.LoadOnce(ort.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "初始化推理运行时失败: %v\n", err)
			return 1
		}
		e := engine.New(engine.Options{})
		defer e.Close()
		fmt.Println(e.SupportedDevicesJSON())
		return 0
	}

	if f.dict != "" {
		cfg.Engine.DictDir = f.dict
	}
	if f.mode != "" {
		cfg.Engine.AccelerationMode = f.mode
	}
	if f.threads >= 0 {
		cfg.Engine.CPUNumThreads = f.threads
	}
	cfg.Engine.Models = append(cfg.Engine.Models, f.models...)
	cfg.Engine.WatchModels = false

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	e := a.Engine()

	if f.metas {
		fmt.Println(e.MetasJSON())
		return 0
	}

	if err := synthesize(ctx, e, &f, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func synthesize(ctx context.Context, e *engine.Engine, f *synthFlags, cfg *config.Config) error {
	style := uint32(f.style)
	inputs := 0
	for _, s := range []string{f.text, f.kana, f.queryIn} {
		if s != "" {
			inputs++
		}
	}
	if inputs != 1 {
		printUsage()
		return fmt.Errorf("-text、-kana、-query-in 必须且只能指定一个")
	}

	var (
		q   *query.AudioQuery
		err error
	)
	switch {
	case f.queryIn != "":
		data, err := os.ReadFile(f.queryIn)
		if err != nil {
			return fmt.Errorf("读取 AudioQuery 失败: %w", err)
		}
		if q, err = query.Unmarshal(string(data)); err != nil {
			return err
		}
	case f.kana != "":
		q, err = e.AudioQueryFromKana(ctx, f.kana, style)
	default:
		q, err = e.AudioQuery(ctx, f.text, style)
	}
	if err != nil {
		return err
	}

	if f.queryOut != "" {
		doc, err := query.Marshal(q)
		if err != nil {
			return err
		}
		if err := engine.WriteFile(f.queryOut, []byte(doc)); err != nil {
			return err
		}
		logger.Infof("[main] AudioQuery 已写入: %s", f.queryOut)
		if f.out == "" {
			return nil
		}
	}

	out := f.out
	if out == "" {
		out = filepath.Join(cfg.Synthesis.OutputDir, "out.wav")
	}
	path, err := e.SynthesisToFile(ctx, q, style, out, f.upspeak)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// loadConfig 读取配置文件。未显式指定且默认文件不存在时使用默认配置。
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil && !explicit && os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
