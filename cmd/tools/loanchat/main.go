package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/loandesk/backend/internal/bootstrap"
	"github.com/loandesk/backend/internal/config"
	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/service/workflow"
)

// loanWorkflow is the subset of the dispatcher the console drives.
type loanWorkflow interface {
	HandleTurn(ctx context.Context, req workflow.TurnRequest) (workflow.TurnResult, error)
	Submit(ctx context.Context, record loan.ApplicationRecord) (workflow.SubmitResult, error)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if !cfg.AI.Enabled() {
		log.Fatal("AI 服务未启用，请先在环境变量中配置 ARK_* 凭证")
	}

	applyPath := flag.String("apply", "", "YAML 申请文件路径，直接提交评估")
	sessionFlag := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 3*time.Minute, "单次请求超时时间")
	flag.Parse()

	// 控制台工具只使用内存存储
	cfg.Session.Store = config.StoreMemory
	store, err := bootstrap.OpenStore(cfg.Session)
	if err != nil {
		log.Fatalf("会话存储初始化失败: %v", err)
	}
	defer store.Close()

	registry, err := bootstrap.Registry(context.Background(), cfg)
	if err != nil {
		log.Fatalf("AI 服务初始化失败: %v", err)
	}
	dispatcher, err := bootstrap.NewDispatcher(cfg, store, registry, nil)
	if err != nil {
		log.Fatalf("工作流初始化失败: %v", err)
	}

	if *applyPath != "" {
		if err := runApply(dispatcher, *applyPath, *timeout, os.Stdout); err != nil {
			log.Fatalf("提交失败: %v", err)
		}
		return
	}

	sessionID := *sessionFlag
	if sessionID == "" {
		sessionID = fmt.Sprintf("console-%d", time.Now().UnixNano())
	}
	if err := runChat(dispatcher, sessionID, *timeout, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("对话中断: %v", err)
	}
}

// decodeApplication reads a YAML application; unknown keys are rejected.
func decodeApplication(data []byte) (loan.ApplicationRecord, error) {
	var record loan.ApplicationRecord
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&record); err != nil {
		return loan.ApplicationRecord{}, fmt.Errorf("decode application: %w", err)
	}
	return record, nil
}

func runApply(wf loanWorkflow, path string, timeout time.Duration, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	record, err := decodeApplication(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Printf("提交申请: applicant=%s amount=%.2f", record.Name, record.LoanAmount)
	result, err := wf.Submit(ctx, record)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session: %s\nstatus: %s\n", result.SessionID, result.Status)
	if result.Decision != nil {
		fmt.Fprintf(out, "\n%s\n", result.Decision.Summary)
	}
	return nil
}

func runChat(wf loanWorkflow, sessionID string, timeout time.Duration, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "session %s: type your message, /quit to exit\n", sessionID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		result, err := wf.HandleTurn(ctx, workflow.TurnRequest{SessionID: sessionID, Message: line})
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintln(out, "(request timed out, try again)")
				continue
			}
			fmt.Fprintf(out, "(error: %v)\n", err)
			continue
		}

		fmt.Fprintf(out, "%s\n[phase: %s]\n", result.Reply, result.Phase)
		if result.Decision != nil {
			fmt.Fprintf(out, "\n%s\n", result.Decision.Summary)
			return nil
		}
	}
}
