// Package vvm 读写声音模型容器。容器是 zip 文件，包含清单、说话人元数据、
// 后端参数文件和后端所需的附属文件。
package vvm

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/result"
)

const (
	// FormatVersion 是支持的容器版本。
	FormatVersion = 1
	// ManifestName 是清单条目名。
	ManifestName = "manifest.json"
	// Ext 是模型文件扩展名。
	Ext = ".vvm"

	defaultMetas  = "metas.json"
	defaultParams = "talk.yaml"
	maxEntrySize  = 1 << 30
)

// Manifest 是 manifest.json 的内容。
type Manifest struct {
	FormatVersion int           `json:"vvm_format_version"`
	ID            string        `json:"id"`
	MetasFilename string        `json:"metas_filename"`
	Talk          *TalkManifest `json:"talk"`
}

// TalkManifest 描述说话模型：后端类型、参数文件和风格到内部声音的映射。
type TalkManifest struct {
	Kind                  string         `json:"kind"`
	ParamsFilename        string         `json:"params_filename"`
	Files                 []string       `json:"files"`
	StyleIDToInnerVoiceID map[string]int `json:"style_id_to_inner_voice_id"`
}

// Style 是一个说话风格。
type Style struct {
	Name  string `json:"name"`
	ID    uint32 `json:"id"`
	Type  string `json:"type"`
	Order *int   `json:"order,omitempty"`
}

// SpeakerMeta 是说话人元数据。
type SpeakerMeta struct {
	Name        string  `json:"name"`
	Styles      []Style `json:"styles"`
	Version     string  `json:"version"`
	SpeakerUUID string  `json:"speaker_uuid"`
	Order       *int    `json:"order,omitempty"`
}

// File 是已解析的模型容器。
type File struct {
	Path        string
	ID          uuid.UUID
	Kind        string
	Metas       []SpeakerMeta
	Params      []byte
	Files       map[string][]byte
	InnerVoices map[uint32]int
}

var api = sonic.ConfigStd

func headerErr(err error, format string, args ...any) error {
	return result.Wrap(result.KindModelLoad, result.CodeInvalidModelHeader, "load_model", err, fmt.Sprintf(format, args...))
}

func dataErr(err error, format string, args ...any) error {
	return result.Wrap(result.KindModelLoad, result.CodeInvalidModelData, "load_model", err, fmt.Sprintf(format, args...))
}

// Open 读取并校验模型容器。
func Open(path string) (*File, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, result.Wrap(result.KindModelLoad, result.CodeOpenZipFile, "load_model", err, "打开模型文件失败 "+path)
	}
	defer zr.Close()

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	read := func(name string) ([]byte, error) {
		f, ok := entries[name]
		if !ok {
			return nil, result.Newf(result.KindModelLoad, result.CodeReadZipEntry, "load_model", "模型文件缺少条目 %s", name)
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, result.Wrap(result.KindModelLoad, result.CodeReadZipEntry, "load_model", err, "读取条目失败 "+name)
		}
		return data, nil
	}

	raw, err := read(ManifestName)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := api.Unmarshal(raw, &m); err != nil {
		return nil, headerErr(err, "解析 %s 失败", ManifestName)
	}
	if m.FormatVersion != FormatVersion {
		return nil, headerErr(nil, "不支持的模型格式版本 %d", m.FormatVersion)
	}
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, headerErr(err, "模型 id 无效 %q", m.ID)
	}
	if m.Talk == nil || m.Talk.Kind == "" {
		return nil, headerErr(nil, "模型没有 talk 定义")
	}
	if m.MetasFilename == "" {
		m.MetasFilename = defaultMetas
	}
	if m.Talk.ParamsFilename == "" {
		m.Talk.ParamsFilename = defaultParams
	}

	raw, err = read(m.MetasFilename)
	if err != nil {
		return nil, err
	}
	var metas []SpeakerMeta
	if err := api.Unmarshal(raw, &metas); err != nil {
		return nil, dataErr(err, "解析 %s 失败", m.MetasFilename)
	}

	inner, err := innerVoices(metas, m.Talk.StyleIDToInnerVoiceID)
	if err != nil {
		return nil, err
	}

	params, err := read(m.Talk.ParamsFilename)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(m.Talk.Files))
	for _, name := range m.Talk.Files {
		if files[name], err = read(name); err != nil {
			return nil, err
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &File{
		Path:        abs,
		ID:          id,
		Kind:        m.Talk.Kind,
		Metas:       metas,
		Params:      params,
		Files:       files,
		InnerVoices: inner,
	}, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("条目过大: %d 字节", f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntrySize))
}

func innerVoices(metas []SpeakerMeta, mapping map[string]int) (map[uint32]int, error) {
	if len(metas) == 0 {
		return nil, dataErr(nil, "模型没有说话人")
	}
	inner := make(map[uint32]int)
	for _, sp := range metas {
		if _, err := uuid.Parse(sp.SpeakerUUID); err != nil {
			return nil, dataErr(err, "说话人 %q 的 uuid 无效", sp.Name)
		}
		if len(sp.Styles) == 0 {
			return nil, dataErr(nil, "说话人 %q 没有风格", sp.Name)
		}
		for _, st := range sp.Styles {
			if st.Type != "" && st.Type != "talk" {
				return nil, dataErr(nil, "不支持的风格类型 %q", st.Type)
			}
			if _, dup := inner[st.ID]; dup {
				return nil, dataErr(nil, "风格 %d 重复", st.ID)
			}
			v, ok := mapping[strconv.FormatUint(uint64(st.ID), 10)]
			if !ok {
				return nil, dataErr(nil, "风格 %d 没有对应的内部声音", st.ID)
			}
			inner[st.ID] = v
		}
	}
	return inner, nil
}

// StyleIDs 返回模型的全部风格，升序。
func (f *File) StyleIDs() []uint32 {
	ids := make([]uint32, 0, len(f.InnerVoices))
	for id := range f.InnerVoices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ModelFiles 返回交给推理后端的文件。
func (f *File) ModelFiles() ort.ModelFiles {
	return ort.ModelFiles{Params: f.Params, Files: f.Files}
}
