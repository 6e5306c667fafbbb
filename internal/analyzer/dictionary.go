// Package analyzer 提供基于词典的日语文本分析，把文本转换为带重音的音拍序列。
package analyzer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

const (
	// ManifestFile 是词典目录中的清单文件名。
	ManifestFile = "dict.yaml"
	// Format 是清单中 format 字段的固定值。
	Format = "pivox-dict"
	// FormatVersion 是当前支持的词典版本。
	FormatVersion = 1

	defaultLexicon = "lexicon.csv"
)

// Manifest 描述词典目录。
type Manifest struct {
	Format  string `yaml:"format"`
	Version int    `yaml:"version"`
	Name    string `yaml:"name"`
	Lexicon string `yaml:"lexicon"`
}

// Entry 是一条词条。Accent 为 0 表示平板型。
type Entry struct {
	Surface string
	POS     string
	Reading string
	Accent  int
	Moras   []query.Mora
}

// Dictionary 是已加载的发音词典。加载后只读，可并发分析。
type Dictionary struct {
	mu      sync.RWMutex
	dir     string
	name    string
	entries map[string]*Entry
	maxLen  int
	closed  bool
}

func loadErr(err error, format string, args ...any) error {
	return result.Wrap(result.KindDictionaryLoad, result.CodeLoadDictionary, "open_dictionary", err, fmt.Sprintf(format, args...))
}

// Open 从目录加载词典。
func Open(dir string) (*Dictionary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, loadErr(err, "词典目录不可用 %s", dir)
	}
	if !info.IsDir() {
		return nil, loadErr(nil, "%s 不是目录", dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, loadErr(err, "读取 %s 失败", ManifestFile)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, loadErr(err, "解析 %s 失败", ManifestFile)
	}
	if m.Format != Format {
		return nil, loadErr(nil, "不支持的词典格式 %q", m.Format)
	}
	if m.Version != FormatVersion {
		return nil, loadErr(nil, "不支持的词典版本 %d", m.Version)
	}
	if m.Lexicon == "" {
		m.Lexicon = defaultLexicon
	}

	f, err := os.Open(filepath.Join(dir, m.Lexicon))
	if err != nil {
		return nil, loadErr(err, "打开词表 %s 失败", m.Lexicon)
	}
	defer f.Close()

	d := &Dictionary{dir: dir, name: m.Name, entries: make(map[string]*Entry)}
	if err := d.readLexicon(f); err != nil {
		return nil, err
	}
	if len(d.entries) == 0 {
		return nil, loadErr(nil, "词表 %s 为空", m.Lexicon)
	}

	logger.Infof("[analyzer] 词典已加载: %s (%d 条)", m.Name, len(d.entries))
	return d, nil
}

func (d *Dictionary) readLexicon(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return loadErr(err, "词表格式错误")
		}
		line, _ := cr.FieldPos(0)
		e, err := parseEntry(rec)
		if err != nil {
			return loadErr(err, "词表第 %d 行无效", line)
		}
		d.entries[e.Surface] = e
		if n := utf8.RuneCountInString(e.Surface); n > d.maxLen {
			d.maxLen = n
		}
	}
}

func parseEntry(rec []string) (*Entry, error) {
	surface := Normalize(strings.TrimSpace(rec[0]))
	if surface == "" {
		return nil, fmt.Errorf("表层形为空")
	}
	reading := kana.ToKatakana(strings.TrimSpace(rec[2]))
	moras, err := kana.SplitMoras(reading)
	if err != nil {
		return nil, fmt.Errorf("读音 %q 无效: %w", reading, err)
	}
	if len(moras) == 0 {
		return nil, fmt.Errorf("读音为空")
	}
	accent, err := strconv.Atoi(strings.TrimSpace(rec[3]))
	if err != nil {
		return nil, fmt.Errorf("重音 %q 无效: %w", rec[3], err)
	}
	if accent < 0 || accent > len(moras) {
		return nil, fmt.Errorf("重音 %d 超出范围 [0,%d]", accent, len(moras))
	}
	return &Entry{
		Surface: surface,
		POS:     strings.TrimSpace(rec[1]),
		Reading: reading,
		Accent:  accent,
		Moras:   moras,
	}, nil
}

// Name 返回词典名称。
func (d *Dictionary) Name() string { return d.name }

// Dir 返回词典目录。
func (d *Dictionary) Dir() string { return d.dir }

// Len 返回词条数量。
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Lookup 按表层形查找词条。
func (d *Dictionary) Lookup(surface string) (*Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[Normalize(surface)]
	return e, ok
}

// Close 释放词表。重复调用无副作用。
func (d *Dictionary) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.entries = nil
	logger.Debugf("[analyzer] 词典已关闭: %s", d.name)
	return nil
}

// Closed 报告词典是否已关闭。
func (d *Dictionary) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
