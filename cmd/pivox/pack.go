package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/backend/param"
	"github.com/iabetor/pivox/internal/sample"
	"github.com/iabetor/pivox/internal/vvm"
)

// runPack 把参数文件、说话人元数据和附属文件打包为 .vvm。
func runPack(args []string) int {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	paramsPath := fs.String("params", "", "后端参数文件（param 后端为 YAML）")
	metasPath := fs.String("metas", "", "说话人元数据 metas.json")
	kind := fs.String("kind", param.Kind, "后端类型")
	id := fs.String("id", "", "模型 id，为空时随机生成")
	out := fs.String("out", "", "输出 .vvm 路径")
	var files stringList
	fs.Var(&files, "file", "附属文件 name=path，可重复")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *paramsPath == "" || *metasPath == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "pack 需要 -params、-metas 和 -out")
		fs.Usage()
		return 2
	}

	spec := vvm.Spec{Kind: *kind, ParamsFilename: filepath.Base(*paramsPath)}
	if *id != "" {
		parsed, err := uuid.Parse(*id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "模型 id 无效: %v\n", err)
			return 1
		}
		spec.ID = parsed
	}

	var err error
	if spec.Params, err = os.ReadFile(*paramsPath); err != nil {
		fmt.Fprintf(os.Stderr, "读取参数文件失败: %v\n", err)
		return 1
	}
	if *kind == param.Kind {
		if _, err := param.ParseParams(spec.Params); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	metas, err := os.ReadFile(*metasPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取元数据失败: %v\n", err)
		return 1
	}
	if spec.Metas, err = vvm.ParseMetas(metas); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	spec.InnerVoices = vvm.SequentialInnerVoices(spec.Metas)

	if len(files) > 0 {
		spec.Files = make(map[string][]byte, len(files))
		for _, f := range files {
			name, path, ok := strings.Cut(f, "=")
			if !ok || name == "" {
				fmt.Fprintf(os.Stderr, "附属文件格式应为 name=path: %s\n", f)
				return 2
			}
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "读取附属文件失败: %v\n", err)
				return 1
			}
			spec.Files[name] = data
		}
	}

	if err := vvm.Write(*out, spec); err != nil {
		fmt.Fprintf(os.Stderr, "打包失败: %v\n", err)
		return 1
	}
	if _, err := vvm.Open(*out); err != nil {
		fmt.Fprintf(os.Stderr, "打包结果无法读取: %v\n", err)
		return 1
	}
	fmt.Println(*out)
	return 0
}

// runInit 生成演示词典和模型，并打印可直接使用的命令。
func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	defaultDir := ".pivox"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDir = filepath.Join(home, ".pivox")
	}
	dir := fs.String("dir", defaultDir, "输出目录")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dictDir := filepath.Join(*dir, "dict")
	modelPath := filepath.Join(*dir, "models", "sample"+vvm.Ext)
	if err := sample.WriteDictionary(dictDir); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := sample.WriteModel(modelPath, sample.DefaultModel()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Printf("词典: %s\n模型: %s\n\n试一下:\n  pivox -dict %s -model %s -text こんにちは -out hello.wav\n",
		dictDir, modelPath, dictDir, modelPath)
	return 0
}
