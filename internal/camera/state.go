package camera

// State はデバイスの動作状態を表す
type State string

const (
	StateUnavailable State = "unavailable" // Open に失敗した、またはクローズ済み
	StateStopped     State = "stopped"     // 設定済みだがキャプチャ停止中
	StateRunning     State = "running"     // キャプチャ中
)

// canOperate はデバイス操作を受け付ける状態かどうかを返す
func (s State) canOperate() bool {
	return s == StateStopped || s == StateRunning
}
