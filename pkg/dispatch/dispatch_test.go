package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formcanvas/sheetsync/internal/testlog"
	"github.com/formcanvas/sheetsync/pkg/dispatch"
	"github.com/formcanvas/sheetsync/pkg/models"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/store"
)

type fixture struct {
	store         *store.Store
	dispatcher    *dispatch.Dispatcher
	log           *testlog.Handler
	notifications []dispatch.Notification
}

func newFixture() *fixture {
	f := &fixture{store: store.New()}
	l, h := testlog.New()
	f.log = h
	f.dispatcher = dispatch.New(f.store,
		dispatch.WithLogger(l),
		dispatch.WithNotifier(dispatch.NotifierFunc(func(n dispatch.Notification) {
			f.notifications = append(f.notifications, n)
		})),
	)
	return f
}

func (f *fixture) send(frames ...string) {
	for _, frame := range frames {
		f.dispatcher.HandleFrame([]byte(frame))
	}
}

func (f *fixture) table(t *testing.T, id string) models.Table {
	t.Helper()
	tbl, ok := f.store.Table(id)
	require.True(t, ok, "table %s not found", id)
	return tbl
}

func TestConnectionAck(t *testing.T) {
	f := newFixture()
	f.send(`{"type":"connection_ack","data":{"status":"connected"}}`)
	assert.True(t, f.store.Connected())
}

func TestRowCompleteAutoCreatesOnce(t *testing.T) {
	f := newFixture()

	f.send(
		`{"type":"row_complete","data":{"table_id":"new","row":{"品名":"土豆"}}}`,
		`{"type":"row_complete","data":{"table_id":"new","row":{"品名":"白菜"}}}`,
	)

	require.Len(t, f.store.Tables(), 1)
	tbl := f.table(t, "new")
	assert.Equal(t, models.ImportedTitle, tbl.Title)
	assert.True(t, tbl.IsStreaming)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "土豆", tbl.Rows[0][models.KeyName])
	assert.Equal(t, "白菜", tbl.Rows[1][models.KeyName])
	assert.Equal(t, "new", f.store.ActiveTableID())
}

func TestRowCompleteOnUserTable(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})

	f.send(`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"西红柿","数量":5}}}`)

	tbl := f.table(t, "t1")
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, models.DefaultRowFor(models.DefaultSchema()), tbl.Rows[0])
	assert.Equal(t, "西红柿", tbl.Rows[1][models.KeyName])
	assert.Equal(t, float64(5), tbl.Rows[1][models.KeyQuantity])
	assert.False(t, tbl.IsStreaming, "existing tables are not marked streaming")
}

func TestTableCreate(t *testing.T) {
	f := newFixture()

	f.send(`{"type":"table_create","data":{"table_id":"t1","title":"订单","schema":[{"key":"a","title":"A","type":"number"}],"metadata":{"customer":"acme"}}}`)

	tbl := f.table(t, "t1")
	assert.Equal(t, "订单", tbl.Title)
	assert.Equal(t, models.Schema{{Key: "a", Title: "A", Type: models.ColumnNumber}}, tbl.Schema)
	assert.Empty(t, tbl.Rows)
	assert.True(t, tbl.IsStreaming)
	assert.Equal(t, &models.DefaultPosition, tbl.Position)
	assert.Equal(t, "acme", tbl.Metadata["customer"])
	assert.Equal(t, "t1", f.store.ActiveTableID())
}

func TestTaskLifecycleTogglesStreaming(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})

	f.send(`{"type":"task_start","data":{"task_id":"k","task_type":"extract","table_id":"t1"}}`)
	assert.True(t, f.table(t, "t1").IsStreaming)

	f.send(
		`{"type":"node_start","data":{"task_id":"k","node":"ocr"}}`,
		`{"type":"node_finish","data":{"task_id":"k","node":"ocr"}}`,
	)
	assert.True(t, f.table(t, "t1").IsStreaming, "node events are diagnostic only")

	f.send(`{"type":"task_finish","data":{"task_id":"k","table_id":"t1","success":true}}`)
	assert.False(t, f.table(t, "t1").IsStreaming)
	assert.Empty(t, f.notifications)
}

func TestTaskFinishFailureNotifies(t *testing.T) {
	f := newFixture()
	f.send(`{"type":"task_finish","data":{"task_id":"k","success":false,"message":"ocr failed"}}`)

	require.Len(t, f.notifications, 1)
	assert.Equal(t, dispatch.Notification{Kind: dispatch.KindTaskFailed, TaskID: "k", Message: "ocr failed"}, f.notifications[0])
}

func TestTableReplace(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})
	require.NoError(t, f.store.SetCalibrationNote("t1", 0, models.CalibrationNote{Note: "n"}))

	f.send(`{"type":"table_replace","data":{"table_id":"t1","rows":[{"a":1},{"a":2},{"a":3}],"metadata":{"date":"2024-05-01"}}}`)

	tbl := f.table(t, "t1")
	assert.Len(t, tbl.Rows, 3)
	assert.Empty(t, tbl.CalibrationNotes)
	assert.Equal(t, models.DefaultSchema(), tbl.Schema)
	assert.Equal(t, "2024-05-01", tbl.Metadata["date"])
}

func TestCellUpdate(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})

	f.send(
		`{"type":"cell_update","data":{"table_id":"t1","row_index":0,"col_key":"品名","value":"黄瓜"}}`,
		`{"type":"cell_update","data":{"table_id":"t1","row_index":5,"col_key":"品名","value":"x"}}`,
		`{"type":"cell_update","data":{"table_id":"nope","row_index":0,"col_key":"品名","value":"x"}}`,
	)

	tbl := f.table(t, "t1")
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "黄瓜", tbl.Rows[0][models.KeyName])
	assert.True(t, f.log.Contains("row index out of range"))
	assert.True(t, f.log.Contains("table not found"))
}

func TestCalibrationNoteThenClear(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})

	f.send(`{"type":"calibration_note","data":{"table_id":"t1","row_index":0,"note":"价格可能有误","severity":"error"}}`)

	tbl := f.table(t, "t1")
	assert.Equal(t, models.CalibrationNote{Note: "价格可能有误", Severity: models.SeverityError}, tbl.CalibrationNotes[0])
	assert.Equal(t, models.DefaultRowFor(tbl.Schema), tbl.Rows[0], "notes never change cells")

	require.NoError(t, f.store.ClearCalibrationNote("t1", 0))
	assert.Empty(t, f.table(t, "t1").CalibrationNotes)
}

func TestTableMetadata(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1", Metadata: map[string]any{"customer": "old", "date": "d"}})

	f.send(`{"type":"table_metadata","data":{"table_id":"t1","customer":"new"}}`)

	assert.Equal(t, map[string]any{"customer": "new", "date": "d"}, f.table(t, "t1").Metadata)
}

func TestTableDeleteIsIgnored(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})

	f.send(`{"type":"table_delete","data":{"table_id":"t1"}}`)

	assert.True(t, f.store.Has("t1"))
	assert.True(t, f.log.Contains("ignoring table_delete"))
}

func TestErrorEventNotifies(t *testing.T) {
	f := newFixture()
	version := f.store.Version()

	f.send(
		`{"type":"error","data":{"detail":"quota exceeded"}}`,
		`{"type":"error","data":{"code":9}}`,
	)

	require.Len(t, f.notifications, 2)
	assert.Equal(t, "quota exceeded", f.notifications[0].Message)
	assert.Equal(t, dispatch.KindError, f.notifications[0].Kind)
	assert.Equal(t, `{"code":9}`, f.notifications[1].Message)
	assert.Equal(t, 9, f.notifications[1].Code)
	assert.Equal(t, version, f.store.Version(), "errors are not store mutations")
}

func TestFlatErrorNotifies(t *testing.T) {
	f := newFixture()
	f.send(`{"type":"error","code":4001,"message":"消息格式错误"}`)

	require.Len(t, f.notifications, 1)
	assert.Equal(t, dispatch.Notification{Kind: dispatch.KindError, Code: 4001, Message: "消息格式错误"}, f.notifications[0])
}

func TestChatMessageNotifies(t *testing.T) {
	f := newFixture()
	f.send(`{"type":"chat_message","data":{"role":"agent","content":"已添加","content_type":"text"}}`)

	require.Len(t, f.notifications, 1)
	assert.Equal(t, dispatch.Notification{Kind: dispatch.KindChat, Role: "agent", Message: "已添加", ContentType: "text"}, f.notifications[0])
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})
	version := f.store.Version()

	f.send(
		`not json`,
		`{"data":{}}`,
		`{"type":"hologram","data":{}}`,
		`{"type":"pong"}`,
	)

	assert.Equal(t, version, f.store.Version())
	assert.True(t, f.log.Contains("dropping frame"))
	assert.True(t, f.log.Contains("unknown event type type=hologram"))
}

func TestToolCallUpdateCellTargets(t *testing.T) {
	t.Run("explicit table", func(t *testing.T) {
		f := newFixture()
		f.store.CreateTable(store.CreateOptions{ID: "t1"})
		f.store.CreateTable(store.CreateOptions{ID: "t2"})

		f.send(`{"type":"tool_call","data":{"tool":"update_cell","params":{"table_id":"t1","row_index":0,"col_key":"数量","value":3}}}`)

		assert.Equal(t, float64(3), f.table(t, "t1").Rows[0][models.KeyQuantity])
		assert.Equal(t, 0, f.table(t, "t2").Rows[0][models.KeyQuantity])
	})

	t.Run("active table", func(t *testing.T) {
		f := newFixture()
		f.store.CreateTable(store.CreateOptions{ID: "t1"})
		f.store.CreateTable(store.CreateOptions{ID: "t2"})

		f.send(`{"type":"tool_call","data":{"tool":"update_cell","params":{"row_index":0,"col_key":"数量","value":3}}}`)

		assert.Equal(t, float64(3), f.table(t, "t2").Rows[0][models.KeyQuantity])
		assert.Equal(t, 0, f.table(t, "t1").Rows[0][models.KeyQuantity])
	})

	t.Run("no target", func(t *testing.T) {
		f := newFixture()
		f.store.CreateTable(store.CreateOptions{ID: "t1"})
		require.NoError(t, f.store.SetActiveTable(""))
		version := f.store.Version()

		f.send(`{"type":"tool_call","data":{"tool":"update_cell","params":{"row_index":0,"col_key":"数量","value":3}}}`)

		assert.Equal(t, version, f.store.Version())
		assert.Equal(t, 0, f.table(t, "t1").Rows[0][models.KeyQuantity])
		assert.True(t, f.log.Contains("tool call has no target table"))
	})
}

func TestToolCallRows(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})
	require.NoError(t, f.store.SetCalibrationNote("t1", 0, models.CalibrationNote{Note: "first"}))

	f.send(
		`{"type":"tool_call","data":{"tool":"add_row","params":{"data":{"品名":"白菜"}}}}`,
		`{"type":"tool_call","data":{"tool":"add_row","params":{"row":{"品名":"萝卜"}}}}`,
		`{"type":"tool_call","data":{"tool":"add_row","params":{"row":{"品名":"葱"},"position":0}}}`,
	)

	tbl := f.table(t, "t1")
	require.Len(t, tbl.Rows, 4)
	assert.Equal(t, "葱", tbl.Rows[0][models.KeyName])
	assert.Equal(t, "", tbl.Rows[1][models.KeyName])
	assert.Equal(t, "白菜", tbl.Rows[2][models.KeyName])
	assert.Equal(t, 0, tbl.Rows[2][models.KeyQuantity])
	assert.Equal(t, "萝卜", tbl.Rows[3][models.KeyName])
	assert.Equal(t, "first", tbl.CalibrationNotes[1].Note)

	f.send(`{"type":"tool_call","data":{"tool":"delete_row","params":{"row_index":-1}}}`)
	f.send(`{"type":"tool_call","data":{"tool":"delete_row","params":{"row_index":0}}}`)

	tbl = f.table(t, "t1")
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "", tbl.Rows[0][models.KeyName])
	assert.Equal(t, "白菜", tbl.Rows[1][models.KeyName])
	assert.Equal(t, "first", tbl.CalibrationNotes[0].Note)

	f.send(`{"type":"tool_call","data":{"tool":"delete_row","params":{"row_index":-9}}}`)
	assert.Len(t, f.table(t, "t1").Rows, 2)
}

func TestToolCallCreateTable(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})
	require.NoError(t, f.store.SetActiveTable(""))

	f.send(`{"type":"tool_call","data":{"tool":"create_table","params":{"title":"新订单","template":"农产品订单"}}}`)

	tables := f.store.Tables()
	require.Len(t, tables, 2)
	created := tables[1]
	assert.Equal(t, "新订单", created.Title)
	assert.Equal(t, models.DefaultSchema(), created.Schema)
	assert.Empty(t, created.Rows)
	assert.Equal(t, "农产品订单", created.Metadata["template"])
	assert.False(t, created.IsStreaming)
	assert.Equal(t, created.ID, f.store.ActiveTableID())
}

func TestCreateOnExistingIDKeepsRows(t *testing.T) {
	tests := map[string]string{
		"table_create": `{"type":"table_create","data":{"table_id":"t1","title":"改名"}}`,
		"tool_call":    `{"type":"tool_call","data":{"tool":"create_table","params":{"table_id":"t1","title":"改名"}}}`,
	}

	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.send(
				`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"土豆"}}}`,
				`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"白菜"}}}`,
			)
			require.NoError(t, f.store.SetCalibrationNote("t1", 1, models.CalibrationNote{Note: "核对数量"}))

			f.send(frame)

			tbl := f.table(t, "t1")
			assert.Equal(t, "改名", tbl.Title)
			require.Len(t, tbl.Rows, 2)
			assert.Equal(t, "白菜", tbl.Rows[1][models.KeyName])
			assert.Equal(t, "核对数量", tbl.CalibrationNotes[1].Note)
			assert.Len(t, f.store.Tables(), 1)
		})
	}
}

func TestCreateOnExistingIDWithRowsReplaces(t *testing.T) {
	f := newFixture()
	f.send(`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"土豆"}}}`)
	require.NoError(t, f.store.SetCalibrationNote("t1", 0, models.CalibrationNote{Note: "核对"}))

	f.send(`{"type":"table_create","data":{"table_id":"t1","rows":[{"品名":"葱"},{"品名":"姜"}]}}`)

	tbl := f.table(t, "t1")
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "葱", tbl.Rows[0][models.KeyName])
	assert.Empty(t, tbl.CalibrationNotes)
}

func TestToolCallDeleteLastRowAfterUserEdit(t *testing.T) {
	f := newFixture()
	f.send(
		`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"a"}}}`,
		`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"b"}}}`,
		`{"type":"row_complete","data":{"table_id":"t1","row":{"品名":"c"}}}`,
	)

	_, err := f.store.AddRow("t1", models.Row{models.KeyName: "d"})
	require.NoError(t, err)
	f.send(`{"type":"tool_call","data":{"tool":"delete_row","params":{"row_index":-1}}}`)

	tbl := f.table(t, "t1")
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "c", tbl.Rows[2][models.KeyName])
}

func TestToolCallUnknownTool(t *testing.T) {
	f := newFixture()
	f.store.CreateTable(store.CreateOptions{ID: "t1"})
	version := f.store.Version()

	f.send(`{"type":"tool_call","data":{"tool":"query_product","params":{"query":"番茄"}}}`)

	assert.Equal(t, version, f.store.Version())
	assert.True(t, f.log.Contains("ignoring unknown tool tool=query_product"))
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	s := store.New()
	l, h := testlog.New()

	var observed []protocol.EventType
	d := dispatch.New(s,
		dispatch.WithLogger(l),
		dispatch.WithNotifier(dispatch.NotifierFunc(func(dispatch.Notification) {
			panic("notifier down")
		})),
		dispatch.WithObserver(func(ev protocol.Event) {
			if ev.EventHeader().Type == protocol.RowComplete {
				panic("observer down")
			}
			observed = append(observed, ev.EventHeader().Type)
		}),
	)

	assert.NotPanics(t, func() {
		d.HandleFrame([]byte(`{"type":"error","data":{"message":"boom"}}`))
		d.HandleFrame([]byte(`{"type":"row_complete","data":{"table_id":"t1","row":{}}}`))
		d.HandleFrame([]byte(`{"type":"connection_ack","data":{}}`))
	})

	assert.True(t, s.Connected())
	tbl, ok := s.Table("t1")
	require.True(t, ok)
	assert.Len(t, tbl.Rows, 1)
	assert.Equal(t, []protocol.EventType{protocol.Error, protocol.ConnectionAck}, observed)
	assert.True(t, h.Contains("notifier panicked"))
	assert.True(t, h.Contains("handler panicked"))
}
