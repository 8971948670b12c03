package convert

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrConverterTimeout は変換プロセスが制限時間内に終わらなかったことを表します。
var ErrConverterTimeout = errors.New("converter timed out")

// 強制終了後、孫プロセスが出力パイプを握ったままでも待ち続けない
const waitDelay = 5 * time.Second

// ConvertRequest は変換プロセス一回分の入力です。
type ConvertRequest struct {
	InputDir         string
	OutputDir        string
	NameField        string
	DescriptionField string
}

// Converter は InputDir のシェープファイルを OutputDir の KML に変換します。
// 戻り値の出力は標準出力と標準エラーを書き込み順に連結したものです。
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) ([]byte, error)
}

// ConverterFunc は関数を Converter として使うためのアダプタです。
type ConverterFunc func(ctx context.Context, req ConvertRequest) ([]byte, error)

func (f ConverterFunc) Convert(ctx context.Context, req ConvertRequest) ([]byte, error) {
	return f(ctx, req)
}

// ProcessConverter は外部プロセスを起動して変換します。
//
//	<Path> [<Script>] --input_path IN --output_path OUT --name_field N --description_field D
type ProcessConverter struct {
	Path    string
	Script  string
	Timeout time.Duration
}

// Convert はプロセスを実行し、終了コードが 0 以外ならエラーを返します。
// Timeout を超えた場合は ErrConverterTimeout を返します。
func (p *ProcessConverter) Convert(ctx context.Context, req ConvertRequest) ([]byte, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Path, p.args(req)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output.Bytes(), ErrConverterTimeout
	}
	return output.Bytes(), err
}

func (p *ProcessConverter) args(req ConvertRequest) []string {
	args := make([]string, 0, 9)
	if p.Script != "" {
		args = append(args, p.Script)
	}
	return append(args,
		"--input_path", req.InputDir,
		"--output_path", req.OutputDir,
		"--name_field", req.NameField,
		"--description_field", req.DescriptionField,
	)
}
