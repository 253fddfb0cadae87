package notify

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/platform/config"
	"github.com/SlpAus/expert-rating-backend/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRender(t *testing.T) {
	got := Render(KindEventRejected, Params{"event": "Лекция", "reason": "нет ссылки"})
	assert.Equal(t, "Ваше мероприятие «Лекция» отклонено. Причина: нет ссылки", got)
	assert.Empty(t, Render(Kind("unknown"), nil))
}

type capturedMessage struct {
	userID  string
	message string
	token   string
}

func TestVKNotifierDeliversAndDrainsOnShutdown(t *testing.T) {
	var mu sync.Mutex
	var got []capturedMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/messages.send", r.URL.Path)
		mu.Lock()
		got = append(got, capturedMessage{userID: r.PostForm.Get("user_id"), message: r.PostForm.Get("message"), token: r.PostForm.Get("access_token")})
		mu.Unlock()
		_, _ = w.Write([]byte(`{"response": 1}`))
	}))
	defer srv.Close()

	n := NewVKNotifier(config.VKConfig{APIURL: srv.URL, APIVersion: "5.199", BotToken: "bot-token"}, []int64{1, 2}, zap.NewNop())

	graceful := lifecycle.NewManager("graceful", nil)
	forceful := lifecycle.NewManager("forceful", nil)
	gh, err := graceful.NewServiceHandle("notifier")
	require.NoError(t, err)
	fh, err := forceful.NewServiceHandle("notifier")
	require.NoError(t, err)

	n.NotifyAdmins(KindExpertRequest, Params{"name": "Анна", "region": "Москва"})
	n.Notify(42, KindEventApproved, Params{"event": "Вебинар", "promo": "SPRING"})
	go n.Start(gh, fh)

	graceful.Shutdown()
	assert.Empty(t, graceful.WaitWithTimeout(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].userID)
	assert.Equal(t, "2", got[1].userID)
	assert.Equal(t, "42", got[2].userID)
	assert.Contains(t, got[2].message, "SPRING")
	assert.Equal(t, "bot-token", got[2].token)

	// 停机后的通知被直接丢弃
	n.Notify(42, KindEventApproved, nil)
}

func TestVKNotifierQueueOverflowDrops(t *testing.T) {
	n := NewVKNotifier(config.VKConfig{}, nil, zap.NewNop())
	for i := 0; i < cap(n.queue)+10; i++ {
		n.Notify(int64(i), KindExpertApproved, nil)
	}
	assert.Equal(t, cap(n.queue), len(n.queue))
}
