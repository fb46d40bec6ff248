package summarize

import (
	"fmt"
	"strings"

	"github.com/prdigest/pr-digest/pkg/models"
)

// CopilotReviewer is the login of GitHub's automated pull request reviewer.
const CopilotReviewer = "copilot-pull-request-reviewer[bot]"

const none = "なし"

// SystemPrompt fixes the output sections and tone of every summary.
const SystemPrompt = `あなたは.NET開発者向けのPull Request要約アシスタントです。
以下の形式で要約を出力してください：

=================================
出力形式:

#### 概要
1行から5行ぐらいで簡潔に記述してください。
またサンプルコードなどもあれば記載してください。

#### 変更内容
変更されたファイルと主な変更内容をリストアップしてください。

#### パフォーマンスへの影響
パフォーマンスに関連する変更があれば具体的に記載してください。（なければ"影響なし"）
改善点や懸念点を明記してください。

#### 関連Issue
関連するIssueあれば記載してください。（なければ"なし"）

#### その他
それ以外に記載した方が良い特記事項があれば記載してください。（なければ"なし"）

#### サンプルコードを記載時の注意点
C#のコードブロックを使用してください：
` + "```csharp\n// ソースコードを記載\n```" + `
=================================

.NET開発者にとって有益な情報を含める形で、最大1000文字までで要約してください。
タイトルは不要です。markdown形式で出力してください。

【追加の詳細ガイドライン】
要約を作成する際は、以下の点に特に注意を払ってください：

1. **コード変更の技術的影響**
   - 変更がランタイム、コンパイラ、ライブラリのどの部分に影響するか明記
   - API の変更がある場合は、公開APIか内部実装かを区別
   - 互換性への影響（破壊的変更、非推奨化など）を明確に記載

2. **パフォーマンスに関する分析**
   - メモリ使用量、実行速度、スループットへの影響を具体的に記載
   - ベンチマーク結果や計測値がある場合は必ず含める
   - パフォーマンス改善の場合は、改善率や具体的な数値を記載

3. **セキュリティとバグ修正**
   - セキュリティ上の脆弱性修正の場合は、その重要度を明記
   - バグ修正の場合、修正前の問題の再現条件と修正後の動作を対比
   - CVE番号などのセキュリティ識別子がある場合は記載`

// PromptBuilder renders the per-PR user prompt.
type PromptBuilder struct {
	Repository string  // owner/name, named in the opening line
	MaxFiles   int     // changed files listed before the overflow line; <= 0 lists all
	Budget     *Budget // optional cap on the author's description
}

// Build returns the user prompt for info.
func (p PromptBuilder) Build(info *models.PullRequestInfo) (string, error) {
	body := strings.TrimSpace(info.Body)
	if body == "" {
		body = none
	} else if p.Budget != nil {
		fitted, _, err := p.Budget.Fit(body)
		if err != nil {
			return "", fmt.Errorf("truncating description of #%d: %w", info.Number, err)
		}
		body = fitted
	}

	var b strings.Builder
	fmt.Fprintf(&b, "以下の%sのPull Requestを要約してください。\n", p.Repository)
	b.WriteString("またできる限り、以下の情報以外の内容を推測して含めないようにしてください。\n\n")
	b.WriteString("Pull Request:\n")
	fmt.Fprintf(&b, "- %s #%d\n", info.Title, info.Number)
	fmt.Fprintf(&b, "- 作成者: %s\n", info.Author)
	fmt.Fprintf(&b, "- レビュワー: %s\n\n", strings.Join(Reviewers(info.Reviews), ", "))
	fmt.Fprintf(&b, "作成者による概要:\n%s\n\n", body)
	fmt.Fprintf(&b, "Copilotによる概要:\n%s\n\n", copilotOverview(info.Reviews))
	b.WriteString("変更ファイル:\n")
	writeFiles(&b, info.Files, p.MaxFiles)
	return b.String(), nil
}

// Reviewers returns the distinct review authors in first-review order.
func Reviewers(reviews []models.Review) []string {
	seen := make(map[string]struct{}, len(reviews))
	out := make([]string, 0, len(reviews))
	for _, r := range reviews {
		if r.Reviewer == "" {
			continue
		}
		if _, ok := seen[r.Reviewer]; ok {
			continue
		}
		seen[r.Reviewer] = struct{}{}
		out = append(out, r.Reviewer)
	}
	return out
}

// copilotOverview returns the body of the latest Copilot review, or なし.
func copilotOverview(reviews []models.Review) string {
	var latest *models.Review
	for i := range reviews {
		r := &reviews[i]
		if r.Reviewer != CopilotReviewer {
			continue
		}
		if latest == nil || r.SubmittedAt.After(latest.SubmittedAt) {
			latest = r
		}
	}
	if latest == nil {
		return none
	}
	if text := strings.TrimSpace(latest.Body); text != "" {
		return text
	}
	return none
}

func writeFiles(b *strings.Builder, files []models.FileChange, maxFiles int) {
	shown := files
	if maxFiles > 0 && len(files) > maxFiles {
		shown = files[:maxFiles]
	}
	for _, f := range shown {
		fmt.Fprintf(b, "- %s (+%d/-%d, total: %d)\n", f.Filename, f.Additions, f.Deletions, f.Changes)
	}
	if rest := len(files) - len(shown); rest > 0 {
		fmt.Fprintf(b, "- その他 %d files\n", rest)
	}
}
