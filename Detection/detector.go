package Detection

import "fmt"

/*
边沿检测器

把麦克风口上的开关信号变成 "按下" 事件:
  - 基线 (bias) 追踪空闲电平
  - 施密特触发: 前一个采样 >= 上阈值，紧接着的采样 <= 下阈值，才算一次下降沿
  - 不应期 (refractory): 触发后一段时间内忽略所有穿越，吸收触点抖动
  - 重新布防: 不应期结束，并且信号回到上阈值之上，才允许下一次触发

每次调用最多报告一次按下。
*/

// State 是单个音频流的检测状态，只由 Step 修改
type State struct {
	Armed      bool    // 是否允许触发新的按下
	Cooldown   int     // 剩余的不应期采样数
	PrevSample float32 // 上一个块的最后一个采样，用于检测跨块的下降沿
	Bias       float64 // 基线
}

// NewState 返回一个刚开机的状态: armed, cooldown = 0, 基线为 0
func NewState() State {
	return State{Armed: true}
}

// Params 是检测步骤的静态参数
type Params struct {
	UpperOffset       float64
	LowerOffset       float64
	RefractorySamples int

	// LaxRearm 使用宽松的重新布防策略: 不应期一结束就布防，不要求信号回到上阈值之上。
	// 按住开关超过不应期时容易在残余噪声上重复触发，只用于对比测试。
	LaxRearm bool
}

// Validate 检查阈值与不应期
func (p Params) Validate() error {
	if p.UpperOffset <= p.LowerOffset {
		return fmt.Errorf("%w: upper_offset (%.4f) must be > lower_offset (%.4f)", ErrConfig, p.UpperOffset, p.LowerOffset)
	}
	if p.RefractorySamples < 0 {
		return fmt.Errorf("%w: refractory samples must be >= 0, got %d", ErrConfig, p.RefractorySamples)
	}
	return nil
}

// Block 是一次音频回调的数据。Channels <= 1 表示扁平的单声道块；
// 否则 Samples 按 (frames, channels) 交错排列，检测器不接受这种块。
type Block struct {
	Samples  []float32
	Channels int
}

// Shape 返回块的形状
func (b Block) Shape() []int {
	if b.Channels <= 1 {
		return []int{len(b.Samples)}
	}
	return []int{len(b.Samples) / b.Channels, b.Channels}
}

// ProcessBlock 是带参数检查的检测步骤。
// 返回新的状态、按下在块内的采样偏移，以及是否检测到按下。
func ProcessBlock(block Block, st State, p Params) (State, int, bool, error) {
	if block.Channels > 1 || (block.Channels > 0 && len(block.Samples)%block.Channels != 0) {
		return st, 0, false, &ShapeError{Shape: block.Shape()}
	}
	if err := p.Validate(); err != nil {
		return st, 0, false, err
	}
	next, offset, pressed := Step(block.Samples, st, p)
	return next, offset, pressed, nil
}

// Step 是检测的核心步骤，不做参数检查，也不分配内存，可以直接在音频回调里调用。
// 参数必须事先通过 Params.Validate。
func Step(samples []float32, st State, p Params) (State, int, bool) {
	n := len(samples)
	if n == 0 {
		return st, 0, false
	}

	if st.Armed {
		st.Bias = trackBias(st.Bias, samples)
	}
	upper, lower := st.Thresholds(p)
	last := samples[n-1]

	from := 0
	if !st.Armed {
		if st.Cooldown >= n {
			// 整个块都在不应期内
			st.Cooldown -= n
			if st.Cooldown == 0 && (p.LaxRearm || float64(last) >= upper) {
				st.Armed = true
			}
			st.PrevSample = last
			return st, 0, false
		}

		expiry := st.Cooldown
		st.Cooldown = 0
		if p.LaxRearm {
			from = expiry
		} else {
			// 不应期在块内结束，还要等信号回到上阈值之上
			rise := firstAtOrAbove(samples, max(expiry-1, 0), upper)
			if rise < 0 {
				st.PrevSample = last
				return st, 0, false
			}
			from = rise + 1
		}
		st.Armed = true
	}

	k := firstCrossing(samples, st.PrevSample, from, upper, lower)
	st.PrevSample = last
	if k < 0 {
		return st, 0, false
	}

	// 触发，剩余的采样计入不应期
	st.Armed = false
	st.Cooldown = p.RefractorySamples
	rest := n - (k + 1)
	if st.Cooldown > rest {
		st.Cooldown -= rest
		return st, k, true
	}
	expiry := k + max(st.Cooldown, 1)
	st.Cooldown = 0
	if p.LaxRearm || firstAtOrAbove(samples, expiry, upper) >= 0 {
		st.Armed = true
	}
	return st, k, true
}

// firstCrossing 在 [prev] ++ samples 上寻找第一个 i >= from，
// 使得 s[i] >= upper 且 samples[i] <= lower。
func firstCrossing(samples []float32, prev float32, from int, upper, lower float64) int {
	before := float64(prev)
	if from > 0 {
		before = float64(samples[from-1])
	}
	for i := from; i < len(samples); i++ {
		cur := float64(samples[i])
		if before >= upper && cur <= lower {
			return i
		}
		before = cur
	}
	return -1
}

func firstAtOrAbove(samples []float32, from int, level float64) int {
	for i := from; i < len(samples); i++ {
		if float64(samples[i]) >= level {
			return i
		}
	}
	return -1
}

// EdgeDetector 持有单个音频流的状态，用于实时检测。
// 不是并发安全的: 每个流一个实例，只在音频回调里调用。
type EdgeDetector struct {
	params      Params
	state       State
	blocks      int64
	samplesSeen int64
}

// NewEdgeDetector 在开始处理音频之前检查参数
func NewEdgeDetector(cfg Config) (*EdgeDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewEdgeDetectorWithParams(cfg.Params())
}

// NewEdgeDetectorWithParams 直接使用检测参数创建检测器
func NewEdgeDetectorWithParams(p Params) (*EdgeDetector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &EdgeDetector{params: p, state: NewState()}, nil
}

// Process 处理一个单声道块
func (d *EdgeDetector) Process(samples []float32) (offset int, pressed bool) {
	d.state, offset, pressed = Step(samples, d.state, d.params)
	d.blocks++
	d.samplesSeen += int64(len(samples))
	return offset, pressed
}

// ProcessBlock 处理一个块并检查形状
func (d *EdgeDetector) ProcessBlock(block Block) (int, bool, error) {
	if block.Channels > 1 || (block.Channels > 0 && len(block.Samples)%block.Channels != 0) {
		return 0, false, &ShapeError{Shape: block.Shape()}
	}
	offset, pressed := d.Process(block.Samples)
	return offset, pressed, nil
}

// State 返回当前状态的副本
func (d *EdgeDetector) State() State {
	return d.state
}

// Params 返回检测参数
func (d *EdgeDetector) Params() Params {
	return d.params
}

// Thresholds 返回当前的动态阈值
func (d *EdgeDetector) Thresholds() (upper, lower float64) {
	return d.state.Thresholds(d.params)
}

// Blocks 返回已处理的块数
func (d *EdgeDetector) Blocks() int64 {
	return d.blocks
}

// SamplesSeen 返回已处理的采样总数
func (d *EdgeDetector) SamplesSeen() int64 {
	return d.samplesSeen
}

// Reset 恢复到开机状态
func (d *EdgeDetector) Reset() {
	d.state = NewState()
	d.blocks = 0
	d.samplesSeen = 0
}
