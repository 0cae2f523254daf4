package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ragmag/ragmag-go/internal/images"
	"github.com/ragmag/ragmag-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeChatModel records the messages it was asked to generate from.
type fakeChatModel struct {
	gotMessages []*schema.Message
	reply       string
	err         error
}

func (f *fakeChatModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.gotMessages = msgs
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

// fakeRetriever returns canned pages.
type fakeRetriever struct {
	gotTopK int
	docs    []rag.Document
	err     error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]rag.Document, error) {
	f.gotTopK = topK
	return f.docs, f.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testImageManager(t *testing.T) (*images.Manager, string) {
	t.Helper()
	m, err := images.NewManager(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatal(err)
	}

	dir, err := m.DocumentDir("d1")
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	path := filepath.Join(dir, "page_1.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	return m, path
}

func manualPages(imagePath string) []rag.Document {
	return []rag.Document{
		{
			ID: "n1", DocumentID: "d1", Filename: "pump.pdf", PageNumber: 1,
			Content: "# Priming\nFill the chamber before first use.", ImagePath: imagePath, Score: 0.92,
		},
		{
			ID: "n2", DocumentID: "d1", Filename: "pump.pdf", PageNumber: 4,
			Content: "# Winter storage", Score: 0.61,
		},
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAsk_AnswerAndSources(t *testing.T) {
	t.Parallel()

	imgs, imgPath := testImageManager(t)
	chat := &fakeChatModel{reply: "Fill the chamber with water before first use."}
	ret := &fakeRetriever{docs: manualPages(imgPath)}

	e, err := New(&Config{ChatModel: chat, Retriever: ret, Images: imgs, TopK: 3})
	if err != nil {
		t.Fatal(err)
	}

	ans, err := e.Ask(context.Background(), Query{Text: "how do I prime the pump", IncludeImages: true})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Text != chat.reply {
		t.Errorf("answer: got %q", ans.Text)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(ans.Sources))
	}
	if ans.Sources[0].PageNumber != 1 || ans.Sources[0].Filename != "pump.pdf" {
		t.Errorf("source 0 wrong: %+v", ans.Sources[0])
	}
	if ans.Sources[0].Score != 0.92 {
		t.Errorf("score: got %v", ans.Sources[0].Score)
	}
	if strings.Contains(ans.Sources[0].TextPreview, "\n") {
		t.Errorf("preview should collapse newlines: %q", ans.Sources[0].TextPreview)
	}
	if ans.Elapsed <= 0 {
		t.Error("elapsed should be positive")
	}
}

func TestAsk_PromptShape(t *testing.T) {
	t.Parallel()

	imgs, imgPath := testImageManager(t)
	chat := &fakeChatModel{reply: "ok"}
	ret := &fakeRetriever{docs: manualPages(imgPath)}

	e, err := New(&Config{ChatModel: chat, Retriever: ret, Images: imgs, TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ask(context.Background(), Query{Text: "question", IncludeImages: true}); err != nil {
		t.Fatal(err)
	}

	if len(chat.gotMessages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(chat.gotMessages))
	}
	if chat.gotMessages[0].Role != schema.System {
		t.Errorf("first message role: %v", chat.gotMessages[0].Role)
	}

	user := chat.gotMessages[1]
	if user.Role != schema.User {
		t.Errorf("second message role: %v", user.Role)
	}
	// Text part carries the excerpts and the question; one image part for the
	// single page that has a screenshot.
	if len(user.MultiContent) != 2 {
		t.Fatalf("expected 2 parts (text + 1 image), got %d", len(user.MultiContent))
	}
	text := user.MultiContent[0]
	if text.Type != schema.ChatMessagePartTypeText {
		t.Fatalf("first part should be text")
	}
	if !strings.Contains(text.Text, "parsed content from the manual") {
		t.Errorf("prompt missing context preamble: %.80s", text.Text)
	}
	if !strings.Contains(text.Text, "Priming") || !strings.Contains(text.Text, "page 1") {
		t.Errorf("prompt missing page content: %.200s", text.Text)
	}
	if !strings.Contains(text.Text, "without prior knowledge, answer the query: question") {
		t.Errorf("prompt missing instruction: %.200s", text.Text)
	}

	img := user.MultiContent[1]
	if img.Type != schema.ChatMessagePartTypeImageURL {
		t.Fatalf("second part should be an image")
	}
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("image should be a jpeg data URI: %.40s", img.ImageURL.URL)
	}
}

func TestAsk_ImagesExcludedOnRequest(t *testing.T) {
	t.Parallel()

	imgs, imgPath := testImageManager(t)
	chat := &fakeChatModel{reply: "ok"}
	ret := &fakeRetriever{docs: manualPages(imgPath)}

	e, _ := New(&Config{ChatModel: chat, Retriever: ret, Images: imgs, TopK: 3})
	if _, err := e.Ask(context.Background(), Query{Text: "q", IncludeImages: false}); err != nil {
		t.Fatal(err)
	}

	user := chat.gotMessages[1]
	if len(user.MultiContent) != 1 {
		t.Errorf("expected text-only prompt, got %d parts", len(user.MultiContent))
	}
}

func TestAsk_MissingScreenshotIsNonFatal(t *testing.T) {
	t.Parallel()

	imgs, _ := testImageManager(t)
	chat := &fakeChatModel{reply: "ok"}
	ret := &fakeRetriever{docs: []rag.Document{
		{ID: "n1", DocumentID: "dX", Filename: "m.pdf", PageNumber: 2, Content: "text", ImagePath: "/gone/page_2.jpg"},
	}}

	e, _ := New(&Config{ChatModel: chat, Retriever: ret, Images: imgs})
	ans, err := e.Ask(context.Background(), Query{Text: "q", IncludeImages: true})
	if err != nil {
		t.Fatalf("missing screenshot must not fail the query: %v", err)
	}
	if len(chat.gotMessages[1].MultiContent) != 1 {
		t.Error("unresolvable screenshot should be skipped")
	}
	if len(ans.Sources) != 1 {
		t.Error("sources should still be reported")
	}
}

func TestAsk_NoResults(t *testing.T) {
	t.Parallel()

	e, _ := New(&Config{ChatModel: &fakeChatModel{}, Retriever: &fakeRetriever{}})
	_, err := e.Ask(context.Background(), Query{Text: "q"})
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestAsk_TopKDefaulting(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{docs: manualPages("")}
	e, _ := New(&Config{ChatModel: &fakeChatModel{reply: "ok"}, Retriever: ret, TopK: 5})

	if _, err := e.Ask(context.Background(), Query{Text: "q"}); err != nil {
		t.Fatal(err)
	}
	if ret.gotTopK != 5 {
		t.Errorf("default topK: got %d, want 5", ret.gotTopK)
	}

	if _, err := e.Ask(context.Background(), Query{Text: "q", TopK: 2}); err != nil {
		t.Fatal(err)
	}
	if ret.gotTopK != 2 {
		t.Errorf("explicit topK: got %d, want 2", ret.gotTopK)
	}
}

func TestAsk_GenerationError(t *testing.T) {
	t.Parallel()

	e, _ := New(&Config{
		ChatModel: &fakeChatModel{err: errors.New("model overloaded")},
		Retriever: &fakeRetriever{docs: manualPages("")},
	})
	if _, err := e.Ask(context.Background(), Query{Text: "q"}); err == nil {
		t.Fatal("expected generation error to propagate")
	}
}

func TestAsk_RetrievalError(t *testing.T) {
	t.Parallel()

	e, _ := New(&Config{
		ChatModel: &fakeChatModel{},
		Retriever: &fakeRetriever{err: errors.New("store down")},
	})
	if _, err := e.Ask(context.Background(), Query{Text: "q"}); err == nil {
		t.Fatal("expected retrieval error to propagate")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(&Config{Retriever: &fakeRetriever{}}); err == nil {
		t.Error("expected error for nil ChatModel")
	}
	if _, err := New(&Config{ChatModel: &fakeChatModel{}}); err == nil {
		t.Error("expected error for nil Retriever")
	}
}
